package tui

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litescript/smartim-build/internal/build"
	"github.com/litescript/smartim-build/internal/config"
	"github.com/litescript/smartim-build/internal/task"
	"github.com/litescript/smartim-build/internal/version"
)

const pluginXML = `<idea-plugin>
  <id>com.example.smartim</id>
  <name>Smart IM</name>
  <vendor>example</vendor>
  <description>Switches the input method automatically while you type code and comments.</description>
</idea-plugin>
`

func newProjectFunc(t *testing.T) (ProjectFunc, config.Config) {
	t.Helper()

	dir := t.TempDir()
	files := map[string]string{
		filepath.Join("src", "main", "resources", "META-INF", "plugin.xml"): pluginXML,
		filepath.Join("build", "classes", "java", "main", "Main.class"):     "CAFEBABE",
		filepath.Join("libs", "jna.jar"):                                    "jna",
		version.FileName:                                                    "major=2\nminor=0\npatch=7\n",
	}
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}

	cfg := config.Default()
	cfg.Dir = dir
	cfg.Dependencies = []config.Dependency{{Path: filepath.Join("libs", "jna.jar")}}

	return func(release bool) (*build.Project, error) {
		return build.New(cfg, build.Options{Release: release})
	}, cfg
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()

	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

// drain feeds build events into the model until the build finishes.
func drain(t *testing.T, m Model) Model {
	t.Helper()

	timeout := time.After(10 * time.Second)
	for m.building {
		select {
		case msg := <-m.events:
			m, _ = update(t, m, msg)
		case <-timeout:
			t.Fatal("build did not finish")
		}
	}
	return m
}

func TestBuildUpdatesSteps(t *testing.T) {
	t.Parallel()

	newProject, _ := newProjectFunc(t)
	m := NewModel(context.Background(), Options{NewProject: newProject})

	m, _ = update(t, m, startBuildMsg{})
	require.True(t, m.building)
	assert.Equal(t, "2.0.7-SNAPSHOT", m.version)
	require.NotEmpty(t, m.steps)
	for _, s := range m.steps {
		assert.Equal(t, statusPending, s.status, s.name)
	}

	m = drain(t, m)
	require.NoError(t, m.Err())

	status := make(map[string]stepStatus)
	for _, s := range m.steps {
		status[s.name] = s.status
	}
	assert.Equal(t, statusSkipped, status[build.TaskCompile])
	assert.Equal(t, statusDone, status[build.TaskJar])
	assert.Equal(t, statusDone, status[build.TaskBuildPlugin])
	assert.Contains(t, m.View(), "Build finished")
}

func TestReleaseBuildReloadsVersion(t *testing.T) {
	t.Parallel()

	newProject, _ := newProjectFunc(t)
	m := NewModel(context.Background(), Options{NewProject: newProject, Release: true, Interactive: true})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("b")})
	require.True(t, m.building)
	assert.Equal(t, "2.0.7", m.version)

	var cmd tea.Cmd
	timeout := time.After(10 * time.Second)
	for m.building {
		select {
		case msg := <-m.events:
			m, cmd = update(t, m, msg)
		case <-timeout:
			t.Fatal("build did not finish")
		}
	}
	require.NoError(t, m.Err())
	require.NotNil(t, cmd)

	m, _ = update(t, m, cmd())
	assert.Equal(t, "2.0.8", m.version)
}

func TestBuildSetupError(t *testing.T) {
	t.Parallel()

	boom := errors.New("no config")
	m := NewModel(context.Background(), Options{
		NewProject: func(bool) (*build.Project, error) { return nil, boom },
	})

	m, cmd := update(t, m, startBuildMsg{})
	assert.False(t, m.building)
	require.ErrorIs(t, m.Err(), boom)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, m.View(), "no config")
}

func TestUnknownTarget(t *testing.T) {
	t.Parallel()

	newProject, _ := newProjectFunc(t)
	m := NewModel(context.Background(), Options{NewProject: newProject, Targets: []string{"deploy"}, Interactive: true})

	m, _ = update(t, m, startBuildMsg{})
	assert.False(t, m.building)
	require.ErrorIs(t, m.Err(), task.ErrUnknownTask)
}

func TestApplyEvent(t *testing.T) {
	t.Parallel()

	m := NewModel(context.Background(), Options{})
	m.steps = []step{{name: "jar"}, {name: "buildPlugin"}}
	m.building = true

	m, _ = update(t, m, taskEventMsg{Task: "jar", Kind: task.Succeeded, Duration: 12 * time.Millisecond})
	m, _ = update(t, m, taskEventMsg{Task: "buildPlugin", Kind: task.Failed, Err: errors.New("zip failed")})

	assert.Equal(t, statusDone, m.steps[0].status)
	assert.Equal(t, 12*time.Millisecond, m.steps[0].duration)
	assert.Equal(t, statusFailed, m.steps[1].status)
	require.EqualError(t, m.steps[1].err, "zip failed")

	view := m.View()
	assert.Contains(t, view, "12ms")
	assert.Contains(t, view, "buildPlugin")
}

func TestKeysInteractive(t *testing.T) {
	t.Parallel()

	newProject, _ := newProjectFunc(t)
	m := NewModel(context.Background(), Options{NewProject: newProject, Interactive: true})

	m, _ = update(t, m, m.Init()())
	assert.Equal(t, "2.0.7-SNAPSHOT", m.version)
	assert.Equal(t, "Smart IM Switcher", m.pluginName)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.True(t, m.release)
	m, _ = update(t, m, cmd())
	assert.Equal(t, "2.0.7", m.version)
	assert.Contains(t, m.View(), "[release]")

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestKeysIgnoredWhileBuilding(t *testing.T) {
	t.Parallel()

	m := NewModel(context.Background(), Options{Interactive: true})
	m.building = true

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.False(t, m.release)
	assert.Nil(t, cmd)
}

func TestFilesChangedReloadsVersion(t *testing.T) {
	t.Parallel()

	newProject, cfg := newProjectFunc(t)
	m := NewModel(context.Background(), Options{NewProject: newProject, Interactive: true})
	m, _ = update(t, m, m.Init()())

	require.NoError(t, version.Save(cfg.Path(cfg.Build.VersionFile), version.Number{Major: 3}))

	m, cmd := update(t, m, filesChangedMsg{paths: []string{cfg.Path(cfg.Build.VersionFile)}})
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Equal(t, "3.0.0-SNAPSHOT", m.version)
}

func TestLogLinesAreCapped(t *testing.T) {
	t.Parallel()

	m := NewModel(context.Background(), Options{})
	for i := 0; i < maxLogLines+3; i++ {
		m, _ = update(t, m, logMsg("line\n"))
	}
	assert.Len(t, m.logs, maxLogLines)
	assert.Equal(t, "line", m.logs[0])
}

func TestLogWriterSplitsLines(t *testing.T) {
	t.Parallel()

	var got []tea.Msg
	w := &logWriter{send: func(msg tea.Msg) { got = append(got, msg) }}

	n, err := w.Write([]byte("first\nsecond\n"))
	require.NoError(t, err)
	assert.Equal(t, 13, n)
	assert.Equal(t, []tea.Msg{logMsg("first"), logMsg("second")}, got)
}

func headlessOptions() []tea.ProgramOption {
	return []tea.ProgramOption{tea.WithInput(nil), tea.WithOutput(io.Discard)}
}

// runAsync runs the dashboard and fails the test if it does not return in time.
func runAsync(t *testing.T, ctx context.Context, opts Options) error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, opts) }()

	select {
	case err := <-done:
		return err
	case <-time.After(15 * time.Second):
		t.Fatal("dashboard did not return")
		return nil
	}
}

// Run swaps the default slog logger, so these tests are not parallel.

func TestRunReleaseBuild(t *testing.T) {
	newProject, cfg := newProjectFunc(t)

	err := runAsync(t, context.Background(), Options{
		NewProject:     newProject,
		Release:        true,
		LogLevel:       "debug",
		ProgramOptions: headlessOptions(),
	})
	require.NoError(t, err)

	n, err := version.Load(cfg.Path(cfg.Build.VersionFile))
	require.NoError(t, err)
	assert.Equal(t, version.Number{Major: 2, Minor: 0, Patch: 8}, n)
}

func TestRunBuildFailure(t *testing.T) {
	boom := errors.New("no config")
	err := runAsync(t, context.Background(), Options{
		NewProject:     func(bool) (*build.Project, error) { return nil, boom },
		ProgramOptions: headlessOptions(),
	})
	require.ErrorIs(t, err, boom)
}

func TestRunWatchFailureStillStops(t *testing.T) {
	newProject, _ := newProjectFunc(t)
	missing := filepath.Join(t.TempDir(), "missing", "dir", "gradle.properties")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := runAsync(t, ctx, Options{
		NewProject:     newProject,
		Interactive:    true,
		WatchFiles:     []string{missing},
		ProgramOptions: headlessOptions(),
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunCancelDuringBuild(t *testing.T) {
	newProject, _ := newProjectFunc(t)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var once sync.Once
	slow := func(release bool) (*build.Project, error) {
		p, err := newProject(release)
		if err != nil {
			return nil, err
		}
		p.Graph().Subscribe(func(task.Event) {
			once.Do(func() { close(started) })
			// Keep the build emitting events after the dashboard has gone.
			time.Sleep(20 * time.Millisecond)
		})
		return p, nil
	}
	go func() {
		<-started
		cancel()
	}()

	err := runAsync(t, ctx, Options{
		NewProject:     slow,
		ProgramOptions: headlessOptions(),
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestTruncateToWidth(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hello", truncateToWidth("hello", 0))
	assert.Equal(t, "hello", truncateToWidth("hello", 10))
	assert.Equal(t, "hel…", truncateToWidth("hello", 4))
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	assert.Empty(t, formatDuration(0))
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m5s", formatDuration(125*time.Second))
}
