package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/litescript/smartim-build/internal/tui"
)

var ErrNotTerminal = errors.New("the dashboard needs an interactive terminal")

// NewDashboardCmd returns the dashboard command.
func NewDashboardCmd(arg *RootArgs) *cobra.Command {
	var release bool

	cmd := &cobra.Command{
		Use:   "dashboard [tasks...]",
		Short: "Open the interactive build dashboard",
		Long:  "Shows the current version and rebuilds on demand. Press b to build, r to toggle release, q to quit.",
		RunE: func(cc *cobra.Command, targets []string) error {
			if !isTerminal(cc.OutOrStdout()) {
				return ErrNotTerminal
			}

			cfg, err := loadConfig(arg)
			if err != nil {
				return err
			}

			s := newSession(arg)
			defer s.Close()

			return tui.Run(cc.Context(), tui.Options{
				NewProject:  s.newProject,
				Targets:     targets,
				Release:     release,
				Interactive: true,
				WatchFiles:  watchedFiles(cfg),
				LogLevel:    arg.GetLogLevel(),
			})
		},
	}

	cmd.Flags().BoolVarP(&release, "release", "r", false, "Start in release mode")

	return cmd
}
