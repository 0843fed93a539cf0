package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/litescript/smartim-build/internal/build"
	"github.com/litescript/smartim-build/internal/version"
)

// NewVersionCmd returns the version command.
func NewVersionCmd(arg *RootArgs) *cobra.Command {
	var release, tool bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the plugin version derived from version.properties",
		Args:  cobra.NoArgs,
		RunE: func(cc *cobra.Command, _ []string) error {
			if tool {
				fmt.Fprintln(cc.OutOrStdout(), version.Summary())
				return nil
			}

			cfg, err := loadConfig(arg)
			if err != nil {
				return err
			}
			_, v, err := build.CurrentVersion(cfg, release)
			if err != nil {
				return err
			}
			fmt.Fprintln(cc.OutOrStdout(), v)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&release, "release", "r", false, "Print the release version instead of the snapshot")
	cmd.Flags().BoolVar(&tool, "tool", false, "Print the smartim-build version")

	return cmd
}

// NewBumpCmd returns the bump command.
func NewBumpCmd(arg *RootArgs) *cobra.Command {
	return &cobra.Command{
		Use:       "bump [patch|minor|major]",
		Short:     "Increment a component of the stored version",
		Long:      "Increments a version component. Bumping minor resets patch; bumping major resets minor and patch.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(version.PartPatch), string(version.PartMinor), string(version.PartMajor)},
		RunE: func(cc *cobra.Command, args []string) error {
			part := version.PartPatch
			if len(args) == 1 {
				p, err := version.ParsePart(args[0])
				if err != nil {
					return err
				}
				part = p
			}

			cfg, err := loadConfig(arg)
			if err != nil {
				return err
			}
			path := cfg.Path(cfg.Build.VersionFile)

			n, err := version.Load(path)
			if err != nil {
				return err
			}
			next := n.Bump(part)
			if err := version.Save(path, next); err != nil {
				return err
			}

			fmt.Fprintf(cc.OutOrStdout(), "%s -> %s\n", n, next)
			return nil
		},
	}
}
