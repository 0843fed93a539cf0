package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/litescript/smartim-build/internal/log"
	"github.com/litescript/smartim-build/internal/version"
)

var ErrLogHandlerFailed = errors.New("log handler failed")

func NewRootCmd(name, shortDesc, longDesc string) *cobra.Command {
	args := NewRootArgs()

	cmd := &cobra.Command{
		Use:           name,
		Short:         shortDesc,
		Long:          longDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Summary(),
	}

	cmd.PersistentFlags().StringVar(args.logLevel, "log_level", "warn", "Set the log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(args.logFormat, "log_format", "text", "Set the log format (text, logfmt, json)")
	cmd.PersistentFlags().StringVarP(args.projectDir, "project-dir", "C", ".", "Plugin project directory")
	cmd.PersistentFlags().StringVar(args.configPath, "config", "", "Config file (default <project-dir>/smartim-build.toml)")

	if err := cmd.MarkPersistentFlagDirname("project-dir"); err != nil {
		panic(err)
	}
	if err := cmd.MarkPersistentFlagFilename("config", "toml"); err != nil {
		panic(err)
	}

	cmd.PersistentPreRunE = func(cc *cobra.Command, _ []string) error {
		h, err := log.CreateHandler(
			cc.ErrOrStderr(),
			args.GetLogLevel(),
			args.GetLogFormat(),
		)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLogHandlerFailed, err)
		}

		slog.SetDefault(slog.New(h))

		slog.Debug("ready to go", "project", args.GetProjectDir())

		return nil
	}

	cmd.AddCommand(NewVersionCmd(args))
	cmd.AddCommand(NewBumpCmd(args))
	cmd.AddCommand(NewInitCmd(args))
	cmd.AddCommand(NewBuildCmd(args))
	cmd.AddCommand(NewVerifyCmd(args))
	cmd.AddCommand(NewPublishCmd(args))
	cmd.AddCommand(NewKeygenCmd())
	cmd.AddCommand(NewHistoryCmd(args))
	cmd.AddCommand(NewWatchCmd(args))
	cmd.AddCommand(NewDashboardCmd(args))

	return cmd
}
