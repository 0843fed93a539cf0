// Package tui implements the build dashboard using Bubble Tea.
// It shows the derived plugin version and the state of every planned task
// while a build runs, and in interactive mode rebuilds on demand and follows
// edits to the version file.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/litescript/smartim-build/internal/build"
	"github.com/litescript/smartim-build/internal/log"
	"github.com/litescript/smartim-build/internal/task"
	"github.com/litescript/smartim-build/internal/watch"
)

// maxLogLines is how many recent log lines the dashboard keeps.
const maxLogLines = 8

type stepStatus int

const (
	statusPending stepStatus = iota
	statusRunning
	statusDone
	statusSkipped
	statusFailed
)

type step struct {
	name     string
	status   stepStatus
	duration time.Duration
	err      error
}

// ProjectFunc creates a configured build for the given release mode.
type ProjectFunc func(release bool) (*build.Project, error)

// Options configure the dashboard.
type Options struct {
	NewProject ProjectFunc
	Targets    []string
	Release    bool
	// Interactive keeps the dashboard open between builds.
	Interactive bool
	// WatchFiles trigger a version refresh when they change.
	WatchFiles []string
	LogLevel   string
	// ProgramOptions are passed to the Bubble Tea program.
	ProgramOptions []tea.ProgramOption
}

// Model is the dashboard state
type Model struct {
	opts    Options
	ctx     context.Context
	styles  Styles
	spinner spinner.Model

	release    bool
	pluginName string
	version    string
	steps      []step
	logs       []string

	building bool
	events   chan tea.Msg
	buildErr error
	err      error
	started  time.Time
	elapsed  time.Duration

	width  int
	height int
}

// Messages
type startBuildMsg struct{}

type taskEventMsg task.Event

type buildDoneMsg struct {
	err error
}

type versionMsg struct {
	name    string
	version string
	err     error
}

type filesChangedMsg struct {
	paths []string
}

type logMsg string

// outputMsg is a line the running build printed.
type outputMsg string

// NewModel creates the initial model
func NewModel(ctx context.Context, opts Options) Model {
	styles := NewStyles(PaletteFromEnv())

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Running

	if len(opts.Targets) == 0 {
		opts.Targets = []string{build.DefaultTarget}
	}

	return Model{
		opts:    opts,
		ctx:     ctx,
		styles:  styles,
		spinner: sp,
		release: opts.Release,
	}
}

// Init starts the build, or only loads the version in interactive mode
func (m Model) Init() tea.Cmd {
	if m.opts.Interactive {
		return m.loadVersion()
	}
	return func() tea.Msg { return startBuildMsg{} }
}

// Err returns the setup or build error of the last build.
func (m Model) Err() error {
	if m.err != nil {
		return m.err
	}
	return m.buildErr
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		if m.building {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}

	case startBuildMsg:
		return m.startBuild()

	case taskEventMsg:
		m.applyEvent(task.Event(msg))
		return m, waitForEvent(m.events)

	case buildDoneMsg:
		m.building = false
		m.buildErr = msg.err
		m.elapsed = time.Since(m.started)
		m.events = nil
		if !m.opts.Interactive {
			return m, quitSoon()
		}
		// A release build may have incremented the stored version.
		return m, m.loadVersion()

	case versionMsg:
		m.err = msg.err
		if msg.err == nil {
			m.pluginName = msg.name
			m.version = msg.version
		}

	case filesChangedMsg:
		if !m.building {
			return m, m.loadVersion()
		}

	case logMsg:
		m.appendLog(string(msg))

	case outputMsg:
		m.appendLog(string(msg))
		return m, waitForEvent(m.events)
	}

	return m, nil
}

func (m *Model) appendLog(line string) {
	m.logs = append(m.logs, strings.TrimRight(line, "\r\n"))
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		return m, tea.Quit
	}

	if !m.opts.Interactive || m.building {
		return m, nil
	}

	switch msg.String() {
	case "r":
		m.release = !m.release
		return m, m.loadVersion()
	case "b", "enter":
		return m.startBuild()
	}
	return m, nil
}

func (m Model) loadVersion() tea.Cmd {
	newProject, release := m.opts.NewProject, m.release
	return func() tea.Msg {
		p, err := newProject(release)
		if err != nil {
			return versionMsg{err: err}
		}
		return versionMsg{name: p.Config.Plugin.Name, version: p.Version}
	}
}

func (m Model) startBuild() (Model, tea.Cmd) {
	p, err := m.opts.NewProject(m.release)
	if err != nil {
		m.err = err
		if !m.opts.Interactive {
			return m, tea.Quit
		}
		return m, nil
	}

	plan, err := p.Graph().Plan(m.opts.Targets...)
	if err != nil {
		m.err = err
		if !m.opts.Interactive {
			return m, tea.Quit
		}
		return m, nil
	}

	m.err = nil
	m.buildErr = nil
	m.pluginName = p.Config.Plugin.Name
	m.version = p.Version
	m.steps = make([]step, len(plan))
	for i, s := range plan {
		m.steps[i] = step{name: s.Name}
	}

	ctx, targets := m.ctx, m.opts.Targets
	events := make(chan tea.Msg, 16)
	send := func(msg tea.Msg) {
		select {
		case events <- msg:
		case <-ctx.Done():
		}
	}

	p.Graph().Subscribe(func(e task.Event) {
		send(taskEventMsg(e))
	})
	p.Out = &logWriter{send: send, build: true}

	go func() {
		send(buildDoneMsg{err: p.Run(ctx, targets...)})
	}()

	m.events = events
	m.building = true
	m.started = time.Now()
	return m, tea.Batch(m.spinner.Tick, waitForEvent(events))
}

func waitForEvent(events chan tea.Msg) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		return <-events
	}
}

// quitSoon lets the final frame render before the program exits.
func quitSoon() tea.Cmd {
	return tea.Sequence(
		tea.Tick(200*time.Millisecond, func(time.Time) tea.Msg { return nil }),
		tea.Quit,
	)
}

func (m *Model) applyEvent(e task.Event) {
	for i := range m.steps {
		if m.steps[i].name != e.Task {
			continue
		}
		switch e.Kind {
		case task.Started:
			m.steps[i].status = statusRunning
		case task.Succeeded:
			m.steps[i].status = statusDone
		case task.Skipped:
			m.steps[i].status = statusSkipped
		case task.Failed:
			m.steps[i].status = statusFailed
			m.steps[i].err = e.Err
		}
		m.steps[i].duration = e.Duration
		return
	}
}

// View renders the dashboard
func (m Model) View() string {
	styles := m.styles
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	if len(m.steps) > 0 {
		b.WriteString(m.renderSteps())
		b.WriteString("\n")
	}

	if len(m.logs) > 0 {
		b.WriteString("\n")
		for _, l := range m.logs {
			b.WriteString(styles.Muted.Render(truncateToWidth(l, m.width)))
			b.WriteString("\n")
		}
	}

	if err := m.Err(); err != nil {
		b.WriteString("\n")
		b.WriteString(styles.Error.Render(truncateToWidth(err.Error(), m.width)))
		b.WriteString("\n")
	} else if !m.building && m.elapsed > 0 {
		b.WriteString("\n")
		b.WriteString(styles.Done.Render("Build finished in " + formatDuration(m.elapsed)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	b.WriteString("\n")

	return b.String()
}

func (m Model) renderHeader() string {
	styles := m.styles

	mode := styles.Snapshot.Render("[snapshot]")
	if m.release {
		mode = styles.Release.Render("[release]")
	}

	name := m.pluginName
	if name == "" {
		name = "plugin"
	}

	version := m.version
	if version == "" {
		version = "..."
	}

	return styles.Header.Render("smartim-build") + " " +
		styles.Title.Render(name) + " " +
		styles.Version.Render(version) + " " + mode
}

func (m Model) renderSteps() string {
	styles := m.styles

	width := 0
	for _, s := range m.steps {
		width = max(width, len(s.name))
	}

	var lines []string
	for _, s := range m.steps {
		var icon, name string
		switch s.status {
		case statusPending:
			icon, name = styles.Pending.Render("·"), styles.Pending.Render(PadRight(s.name, width))
		case statusRunning:
			icon, name = m.spinner.View(), styles.Running.Render(PadRight(s.name, width))
		case statusDone:
			icon, name = styles.Done.Render("✓"), styles.HelpDesc.Render(PadRight(s.name, width))
		case statusSkipped:
			icon, name = styles.Skipped.Render("-"), styles.Skipped.Render(PadRight(s.name, width))
		case statusFailed:
			icon, name = styles.Failed.Render("✗"), styles.Failed.Render(PadRight(s.name, width))
		}

		line := icon + " " + name
		if d := formatDuration(s.duration); d != "" {
			line += "  " + styles.Muted.Render(d)
		}
		lines = append(lines, line)
	}

	return styles.Panel.Render(strings.Join(lines, "\n"))
}

func (m Model) renderHelp() string {
	styles := m.styles

	keys := []struct{ key, desc string }{{"q", "quit"}}
	if m.opts.Interactive {
		keys = []struct{ key, desc string }{
			{"b", "build"},
			{"r", "toggle release"},
			{"q", "quit"},
		}
	}

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, styles.HelpKey.Render(k.key)+" "+styles.HelpDesc.Render(k.desc))
	}
	return strings.Join(parts, styles.Muted.Render(" • "))
}

// truncateToWidth truncates a string to fit within maxWidth display columns
func truncateToWidth(s string, maxWidth int) string {
	if maxWidth <= 0 || lipgloss.Width(s) <= maxWidth {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > maxWidth {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

// logWriter forwards log output into the dashboard.
type logWriter struct {
	send func(tea.Msg)
	// build marks output of the running build, delivered through its event channel.
	build bool
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if w.build {
			w.send(outputMsg(line))
			continue
		}
		w.send(logMsg(line))
	}
	return len(p), nil
}

// Run shows the dashboard until the build finishes, or until the user quits
// in interactive mode. It returns the error of the last build.
func Run(ctx context.Context, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	progOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Interactive {
		progOpts = append(progOpts, tea.WithAltScreen())
	}
	progOpts = append(progOpts, opts.ProgramOptions...)
	p := tea.NewProgram(NewModel(ctx, opts), progOpts...)

	// Set up the watcher while logs still go to the previous handler;
	// p.Send blocks until the program is running.
	if opts.Interactive && len(opts.WatchFiles) > 0 {
		w, err := watch.New(opts.WatchFiles, watch.DefaultDebounce, func(paths []string) {
			p.Send(filesChangedMsg{paths: paths})
		})
		if err != nil {
			slog.Warn("file watch disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	level := opts.LogLevel
	if level == "" {
		level = "info"
	}
	h, err := log.CreateHandler(&logWriter{send: p.Send}, level, log.FormatText)
	if err != nil {
		return err
	}
	prev := slog.Default()
	slog.SetDefault(slog.New(h))
	defer slog.SetDefault(prev)

	final, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return final.(Model).Err()
}
