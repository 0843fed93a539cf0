package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/litescript/smartim-build/internal/build"
	"github.com/litescript/smartim-build/internal/config"
	"github.com/litescript/smartim-build/internal/watch"
)

// NewWatchCmd returns the watch command.
func NewWatchCmd(arg *RootArgs) *cobra.Command {
	var release bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the derived version whenever the version file changes",
		Args:  cobra.NoArgs,
		RunE: func(cc *cobra.Command, _ []string) error {
			cfg, err := loadConfig(arg)
			if err != nil {
				return err
			}
			out := cc.OutOrStdout()

			printVersion := func() {
				_, v, err := build.CurrentVersion(cfg, release)
				if err != nil {
					slog.Error("failed to read version", "err", err)
					return
				}
				fmt.Fprintln(out, v)
			}

			w, err := watch.New(watchedFiles(cfg), watch.DefaultDebounce, func(paths []string) {
				slog.Debug("files changed", "paths", paths)
				printVersion()
			})
			if err != nil {
				return err
			}
			defer w.Stop()

			printVersion()
			<-cc.Context().Done()
			return nil
		},
	}

	cmd.Flags().BoolVarP(&release, "release", "r", false, "Print the release version instead of the snapshot")

	return cmd
}

func watchedFiles(cfg config.Config) []string {
	return []string{
		cfg.Path(cfg.Build.VersionFile),
		cfg.Path(cfg.Build.Descriptor),
	}
}
