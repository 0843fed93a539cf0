package build_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litescript/smartim-build/internal/build"
	"github.com/litescript/smartim-build/internal/config"
	"github.com/litescript/smartim-build/internal/history"
	"github.com/litescript/smartim-build/internal/pack"
	"github.com/litescript/smartim-build/internal/sign"
	"github.com/litescript/smartim-build/internal/task"
	"github.com/litescript/smartim-build/internal/version"
)

const pluginXML = `<?xml version="1.0" encoding="UTF-8"?>
<idea-plugin>
  <id>com.example.smartim</id>
  <name>Smart IM</name>
  <vendor>example</vendor>
  <description><![CDATA[
    Switches the input method automatically: English in code, your native language in comments and strings.
  ]]></description>
  <depends>com.intellij.modules.platform</depends>
</idea-plugin>
`

type fakeLedger struct {
	mu       sync.Mutex
	releases []history.Release
}

func (l *fakeLedger) Record(_ context.Context, r history.Release) (history.Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r.ID = "rel-1"
	l.releases = append(l.releases, r)
	return r, nil
}

func (l *fakeLedger) MarkSigned(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.releases {
		if l.releases[i].ID == id {
			l.releases[i].Signed = true
		}
	}
	return nil
}

type fakePublisher struct {
	latest   string
	uploaded []string
}

func (p *fakePublisher) LatestVersion(context.Context, string, string) (string, error) {
	return p.latest, nil
}

func (p *fakePublisher) Upload(_ context.Context, _, _, artifact string) error {
	p.uploaded = append(p.uploaded, artifact)
	return nil
}

func write(t *testing.T, p, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

// newConfig lays out a compiled plugin project at version 1.2.3.
func newConfig(t *testing.T) config.Config {
	t.Helper()

	dir := t.TempDir()
	write(t, filepath.Join(dir, "src", "main", "resources", "META-INF", "plugin.xml"), pluginXML)
	write(t, filepath.Join(dir, "build", "classes", "java", "main", "com", "example", "smartim", "SmartImPlugin.class"), "CAFEBABE")
	write(t, filepath.Join(dir, "libs", "jna-5.14.0.jar"), "jna")
	write(t, filepath.Join(dir, version.FileName), "major=1\nminor=2\npatch=3\n")

	cfg := config.Default()
	cfg.Dir = dir
	cfg.Dependencies = []config.Dependency{{Path: filepath.Join("libs", "jna-5.14.0.jar")}}
	return cfg
}

func storedVersion(t *testing.T, cfg config.Config) version.Number {
	t.Helper()

	n, err := version.Load(cfg.Path(cfg.Build.VersionFile))
	require.NoError(t, err)
	return n
}

func TestSnapshotBuild(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	ledger := &fakeLedger{}
	p, err := build.New(cfg, build.Options{Ledger: ledger})
	require.NoError(t, err)
	assert.Equal(t, "1.2.3-SNAPSHOT", p.Version)

	require.NoError(t, p.Run(context.Background()))

	assert.FileExists(t, filepath.Join(cfg.Dir, "build", "distributions", "smart-im-switcher-1.2.3-SNAPSHOT.zip"))
	assert.FileExists(t, filepath.Join(cfg.Dir, "build", "libs", "smart-im-switcher-1.2.3-SNAPSHOT.jar"))
	assert.Equal(t, version.Number{Major: 1, Minor: 2, Patch: 3}, storedVersion(t, cfg))
	assert.Empty(t, ledger.releases)
}

func TestReleaseBuildIncrementsPatch(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	ledger := &fakeLedger{}
	out := &bytes.Buffer{}
	p, err := build.New(cfg, build.Options{Release: true, Ledger: ledger, Out: out})
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", p.Version)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, "Version incremented to 1.2.4\n", out.String())

	assert.FileExists(t, p.DistributionPath())
	assert.Equal(t, version.Number{Major: 1, Minor: 2, Patch: 4}, storedVersion(t, cfg))

	require.Len(t, ledger.releases, 1)
	rel := ledger.releases[0]
	assert.Equal(t, "com.example.smartim", rel.PluginID)
	assert.Equal(t, "1.2.3", rel.Version)
	assert.Equal(t, p.DistributionPath(), rel.Artifact)
	assert.Len(t, rel.SHA256, 64)
	assert.False(t, rel.Signed)
}

func TestReleaseFailedPackagingKeepsPatch(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	require.NoError(t, os.RemoveAll(cfg.Path(cfg.Build.ClassesDir)))

	var events []task.Event
	ledger := &fakeLedger{}
	p, err := build.New(cfg, build.Options{Release: true, Ledger: ledger})
	require.NoError(t, err)
	p.Graph().Subscribe(func(e task.Event) { events = append(events, e) })

	err = p.Run(context.Background())
	require.ErrorIs(t, err, pack.ErrMissingInput)

	assert.Equal(t, version.Number{Major: 1, Minor: 2, Patch: 3}, storedVersion(t, cfg))
	assert.Empty(t, ledger.releases)
	for _, e := range events {
		assert.NotEqual(t, build.TaskIncrementVersion, e.Task)
	}
}

func TestMissingVersionFile(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	require.NoError(t, os.Remove(cfg.Path(cfg.Build.VersionFile)))

	p, err := build.New(cfg, build.Options{})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0-SNAPSHOT", p.Version)

	_, v, err := build.CurrentVersion(cfg, true)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v)
}

func TestInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	cfg.Plugin.ID = ""

	_, err := build.New(cfg, build.Options{})
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestSignAndVerify(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	priv, pub, err := sign.GenerateKey(filepath.Join(cfg.Dir, "keys"))
	require.NoError(t, err)
	cfg.Signing.PrivateKey = priv
	cfg.Signing.PublicKey = pub

	ledger := &fakeLedger{}
	p, err := build.New(cfg, build.Options{Release: true, Ledger: ledger})
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background(), build.TaskVerify))
	assert.FileExists(t, p.SignaturePath())
	require.Len(t, ledger.releases, 1)
	assert.True(t, ledger.releases[0].Signed)
}

func TestVerifyFailsOnBadDescriptor(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	write(t, cfg.Path(cfg.Build.Descriptor), `<idea-plugin><id>x</id><vendor>v</vendor><description>short</description></idea-plugin>`)

	p, err := build.New(cfg, build.Options{})
	require.NoError(t, err)

	err = p.Run(context.Background(), build.TaskVerify)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "description")
}

func TestPublish(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	pub := &fakePublisher{latest: "1.2.2"}
	p, err := build.New(cfg, build.Options{Release: true, Publisher: pub})
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background(), build.TaskPublish))
	assert.Equal(t, []string{p.DistributionPath()}, pub.uploaded)
}

func TestPublishRejectsPublishedVersion(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	pub := &fakePublisher{latest: "1.2.3"}
	p, err := build.New(cfg, build.Options{Release: true, Publisher: pub})
	require.NoError(t, err)

	require.ErrorIs(t, p.Run(context.Background(), build.TaskPublish), build.ErrNotNewer)
	assert.Empty(t, pub.uploaded)
}

func TestPublishRequiresRelease(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	pub := &fakePublisher{}
	p, err := build.New(cfg, build.Options{Publisher: pub})
	require.NoError(t, err)

	require.ErrorIs(t, p.Run(context.Background(), build.TaskPublish), build.ErrReleaseRequired)
	assert.Empty(t, pub.uploaded)
}

func TestCompileCommand(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}

	cfg := newConfig(t)
	require.NoError(t, os.RemoveAll(cfg.Path(cfg.Build.ClassesDir)))
	cfg.Build.CompileCommand = []string{"/bin/sh", "-c", "mkdir -p build/classes/java/main && echo compiled > build/classes/java/main/Main.class"}

	p, err := build.New(cfg, build.Options{})
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background(), build.TaskJar))
	assert.FileExists(t, p.JarPath())
}

func TestPlan(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	p, err := build.New(cfg, build.Options{Release: true})
	require.NoError(t, err)

	steps, err := p.Graph().Plan(build.TaskPublish)
	require.NoError(t, err)

	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	assert.Equal(t, []string{
		build.TaskCompile, build.TaskPatchDescriptor, build.TaskJar, build.TaskBuildPlugin,
		build.TaskIncrementVersion, build.TaskRecordRelease,
		build.TaskSign, build.TaskVerify, build.TaskPublish,
	}, names)
}
