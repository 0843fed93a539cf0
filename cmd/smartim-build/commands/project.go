package commands

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/litescript/smartim-build/internal/build"
	"github.com/litescript/smartim-build/internal/config"
	"github.com/litescript/smartim-build/internal/history"
	"github.com/litescript/smartim-build/internal/marketplace"
	"github.com/litescript/smartim-build/internal/task"
)

func loadConfig(args *RootArgs) (config.Config, error) {
	return config.Load(args.GetProjectDir(), args.GetConfigPath())
}

// session creates projects for one command invocation. Release projects
// share a single history store, opened on first use.
type session struct {
	args *RootArgs

	mu    sync.Mutex
	store *history.Store
}

func newSession(args *RootArgs) *session {
	return &session{args: args}
}

// newProject reloads the config so edits between dashboard builds apply.
func (s *session) newProject(release bool) (*build.Project, error) {
	cfg, err := loadConfig(s.args)
	if err != nil {
		return nil, err
	}

	opts := build.Options{
		Release:   release,
		Publisher: marketplace.NewClient(cfg.Publishing.Host, cfg.Publishing.Token),
	}
	if release {
		store, err := s.ledger(cfg)
		if err != nil {
			return nil, err
		}
		opts.Ledger = store
	}

	return build.New(cfg, opts)
}

func (s *session) ledger(cfg config.Config) (*history.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		store, err := history.Open(cfg.Path(cfg.History.Path))
		if err != nil {
			return nil, err
		}
		s.store = store
	}
	return s.store, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printEvents writes Gradle-style task lines.
func printEvents(w io.Writer) func(task.Event) {
	return func(e task.Event) {
		switch e.Kind {
		case task.Started:
			fmt.Fprintf(w, "> Task :%s\n", e.Task)
		case task.Skipped:
			fmt.Fprintf(w, "> Task :%s SKIPPED\n", e.Task)
		case task.Failed:
			fmt.Fprintf(w, "> Task :%s FAILED\n", e.Task)
		}
	}
}

func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(100 * time.Millisecond).String()
}
