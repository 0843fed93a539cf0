package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/litescript/smartim-build/internal/config"
	"github.com/litescript/smartim-build/internal/version"
)

var ErrInitFailed = errors.New("init failed")

// NewInitCmd returns the init command.
func NewInitCmd(arg *RootArgs) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and version file",
		Long:  "Writes smartim-build.toml and version.properties (1.0.0) into the project. Existing files are kept.",
		Args:  cobra.NoArgs,
		RunE: func(cc *cobra.Command, _ []string) error {
			cfg, err := loadConfig(arg)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInitFailed, err)
			}
			out := cc.OutOrStdout()

			cfgPath := arg.GetConfigPath()
			if cfgPath == "" {
				cfgPath = config.ConfigPath(cfg.Dir)
			}
			if exists(cfgPath) {
				fmt.Fprintf(out, "Keeping %s\n", cfgPath)
			} else {
				// Env overrides such as the publish token stay out of the file.
				if err := config.Save(cfgPath, config.Default()); err != nil {
					return fmt.Errorf("%w: %w", ErrInitFailed, err)
				}
				fmt.Fprintf(out, "Wrote %s\n", cfgPath)
			}

			versionPath := cfg.Path(cfg.Build.VersionFile)
			if exists(versionPath) {
				fmt.Fprintf(out, "Keeping %s\n", versionPath)
				return nil
			}
			if err := version.Save(versionPath, version.Default); err != nil {
				return fmt.Errorf("%w: %w", ErrInitFailed, err)
			}
			fmt.Fprintf(out, "Wrote %s\n", versionPath)
			return nil
		},
	}
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return !errors.Is(err, fs.ErrNotExist)
}
