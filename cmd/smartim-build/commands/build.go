package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/litescript/smartim-build/internal/build"
	"github.com/litescript/smartim-build/internal/task"
	"github.com/litescript/smartim-build/internal/tui"
)

const buildExample = `  # Package a snapshot distribution
  smartim-build build

  # Package a release and increment the stored patch number
  smartim-build build --release

  # Run specific tasks without the dashboard
  smartim-build build --plain jar signPlugin`

var (
	ErrBuildFailed   = errors.New("build failed")
	ErrVerifyFailed  = errors.New("verification failed")
	ErrPublishFailed = errors.New("publish failed")
)

// NewBuildCmd returns the build command.
func NewBuildCmd(arg *RootArgs) *cobra.Command {
	var release, plain bool

	cmd := &cobra.Command{
		Use:     "build [tasks...]",
		Short:   "Build the plugin distribution",
		Long:    "Runs the named tasks and their dependencies. Defaults to " + build.DefaultTarget + ".",
		Example: buildExample,
		RunE: func(cc *cobra.Command, targets []string) error {
			if len(targets) == 0 {
				targets = []string{build.DefaultTarget}
			}

			s := newSession(arg)
			defer s.Close()

			if !plain && isTerminal(cc.OutOrStdout()) {
				err := tui.Run(cc.Context(), tui.Options{
					NewProject: s.newProject,
					Targets:    targets,
					Release:    release,
					LogLevel:   arg.GetLogLevel(),
				})
				if err != nil {
					return fmt.Errorf("%w: %w", ErrBuildFailed, err)
				}
				return nil
			}

			p, err := s.newProject(release)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrBuildFailed, err)
			}
			if err := runPlain(cc, p, targets); err != nil {
				return fmt.Errorf("%w: %w", ErrBuildFailed, err)
			}
			fmt.Fprintf(cc.OutOrStdout(), "Distribution: %s\n", p.DistributionPath())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&release, "release", "r", false, "Build a release and increment the patch number")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print task lines instead of the dashboard")

	return cmd
}

// NewVerifyCmd returns the verify command.
func NewVerifyCmd(arg *RootArgs) *cobra.Command {
	var release bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Build, sign and verify the plugin distribution",
		Args:  cobra.NoArgs,
		RunE: func(cc *cobra.Command, _ []string) error {
			s := newSession(arg)
			defer s.Close()

			p, err := s.newProject(release)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrVerifyFailed, err)
			}
			if err := runPlain(cc, p, []string{build.TaskVerify}); err != nil {
				return fmt.Errorf("%w: %w", ErrVerifyFailed, err)
			}
			fmt.Fprintf(cc.OutOrStdout(), "Verified %s\n", p.DistributionPath())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&release, "release", "r", false, "Verify a release build")

	return cmd
}

// NewPublishCmd returns the publish command.
func NewPublishCmd(arg *RootArgs) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Build a release and upload it to the marketplace",
		Long: `Builds a release distribution, signs and verifies it, then uploads it.
The upload is refused when the marketplace already has this version or a newer one.
The token is read from publishing.token or SMARTIM_PUBLISH_TOKEN.`,
		Args: cobra.NoArgs,
		RunE: func(cc *cobra.Command, _ []string) error {
			s := newSession(arg)
			defer s.Close()

			p, err := s.newProject(true)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrPublishFailed, err)
			}

			out := cc.OutOrStdout()
			if isTerminal(out) {
				err = runWithSpinner(cc, p, build.TaskPublish)
			} else {
				err = runPlain(cc, p, []string{build.TaskPublish})
			}
			if err != nil {
				return fmt.Errorf("%w: %w", ErrPublishFailed, err)
			}

			fmt.Fprintf(cc.OutOrStdout(), "Published %s %s to %s\n", p.Config.Plugin.ID, p.Version, p.Config.Publishing.Host)
			return nil
		},
	}
}

func runPlain(cc *cobra.Command, p *build.Project, targets []string) error {
	out := cc.OutOrStdout()
	p.Out = out
	p.Graph().Subscribe(printEvents(out))

	start := time.Now()
	if err := p.Run(cc.Context(), targets...); err != nil {
		fmt.Fprintf(out, "\nBUILD FAILED in %s\n", formatElapsed(time.Since(start)))
		return err
	}
	fmt.Fprintf(out, "\nBUILD SUCCESSFUL in %s\n", formatElapsed(time.Since(start)))
	return nil
}

func runWithSpinner(cc *cobra.Command, p *build.Project, targets ...string) error {
	sp := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(cc.OutOrStdout()))
	sp.Color("yellow") //nolint:errcheck
	sp.Suffix = " Preparing " + p.Version
	sp.Start()
	p.Out = cc.OutOrStdout()

	p.Graph().Subscribe(func(e task.Event) {
		if e.Kind != task.Started {
			return
		}
		sp.Lock()
		sp.Suffix = " " + e.Task
		sp.Unlock()
	})

	err := p.Run(cc.Context(), targets...)
	sp.Stop()
	return err
}
