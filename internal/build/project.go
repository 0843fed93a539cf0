// Package build wires the plugin build tasks for a project.
//
// Task order:
//
//	compileJava, patchPluginXml -> jar -> buildPlugin -> signPlugin -> verifyPlugin -> publishPlugin
//
// On release builds buildPlugin is finalized by incrementVersion and recordRelease.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/litescript/smartim-build/internal/compile"
	"github.com/litescript/smartim-build/internal/config"
	"github.com/litescript/smartim-build/internal/descriptor"
	"github.com/litescript/smartim-build/internal/history"
	"github.com/litescript/smartim-build/internal/pack"
	"github.com/litescript/smartim-build/internal/sign"
	"github.com/litescript/smartim-build/internal/task"
	"github.com/litescript/smartim-build/internal/verify"
	"github.com/litescript/smartim-build/internal/version"
)

// Task names.
const (
	TaskCompile          = "compileJava"
	TaskPatchDescriptor  = "patchPluginXml"
	TaskJar              = "jar"
	TaskBuildPlugin      = "buildPlugin"
	TaskSign             = "signPlugin"
	TaskVerify           = "verifyPlugin"
	TaskPublish          = "publishPlugin"
	TaskIncrementVersion = "incrementVersion"
	TaskRecordRelease    = "recordRelease"
)

// DefaultTarget is built when no task is named.
const DefaultTarget = TaskBuildPlugin

var (
	ErrReleaseRequired = errors.New("publishing requires a release build")
	ErrNotNewer        = errors.New("version is not newer than the published one")
	ErrNoPublisher     = errors.New("no marketplace client configured")
)

// Publisher uploads distributions to the marketplace.
type Publisher interface {
	LatestVersion(ctx context.Context, pluginID, channel string) (string, error)
	Upload(ctx context.Context, pluginID, channel, artifact string) error
}

// Ledger records release builds.
type Ledger interface {
	Record(ctx context.Context, r history.Release) (history.Release, error)
	MarkSigned(ctx context.Context, id string) error
}

// Options configure a Project.
type Options struct {
	Release   bool
	Publisher Publisher
	Ledger    Ledger
	// Out receives build notices such as the incremented version. Defaults to stdout.
	Out io.Writer
}

// Project is a configured plugin build.
type Project struct {
	Config  config.Config
	Number  version.Number
	Version string
	Release bool
	// Out receives build notices.
	Out io.Writer

	graph     *task.Graph
	compiler  *compile.Runner
	publisher Publisher
	ledger    Ledger

	distribution pack.Artifact
	releaseID    string
}

// New loads the stored version and registers the build tasks.
func New(cfg config.Config, opts Options) (*Project, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout, err := cfg.CompileTimeout()
	if err != nil {
		return nil, err
	}

	n, err := version.Load(cfg.Path(cfg.Build.VersionFile))
	if err != nil {
		return nil, err
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	p := &Project{
		Config:    cfg,
		Out:       out,
		Number:    n,
		Version:   version.Derive(n, opts.Release),
		Release:   opts.Release,
		graph:     task.NewGraph(),
		compiler:  compile.NewRunner(cfg.Dir, cfg.Build.CompileCommand, timeout),
		publisher: opts.Publisher,
		ledger:    opts.Ledger,
	}
	if err := p.register(); err != nil {
		return nil, err
	}
	return p, nil
}

// CurrentVersion derives the version string from the project's version file.
func CurrentVersion(cfg config.Config, release bool) (version.Number, string, error) {
	n, err := version.Load(cfg.Path(cfg.Build.VersionFile))
	if err != nil {
		return n, "", err
	}
	return n, version.Derive(n, release), nil
}

// Graph exposes the task graph, for planning and event subscriptions.
func (p *Project) Graph() *task.Graph {
	return p.graph
}

// Run executes the named tasks, or DefaultTarget.
func (p *Project) Run(ctx context.Context, targets ...string) error {
	if len(targets) == 0 {
		targets = []string{DefaultTarget}
	}
	slog.Debug("running tasks", "targets", targets, "version", p.Version, "release", p.Release)
	return p.graph.Run(ctx, targets...)
}

func (p *Project) outputPath(parts ...string) string {
	return filepath.Join(append([]string{p.Config.Path(p.Config.Build.OutputDir)}, parts...)...)
}

// PatchedDescriptorPath is where patchPluginXml writes the descriptor.
func (p *Project) PatchedDescriptorPath() string {
	return p.outputPath("tmp", TaskPatchDescriptor, "plugin.xml")
}

// JarName is the plugin jar file name.
func (p *Project) JarName() string {
	return fmt.Sprintf("%s-%s.jar", p.Config.Build.ArtifactName, p.Version)
}

// JarPath is where the jar task writes the plugin jar.
func (p *Project) JarPath() string {
	return p.outputPath("libs", p.JarName())
}

// DistributionPath is where buildPlugin writes the distribution zip.
func (p *Project) DistributionPath() string {
	return p.outputPath("distributions", fmt.Sprintf("%s-%s.zip", p.Config.Build.ArtifactName, p.Version))
}

// SignaturePath is where signPlugin writes the detached signature.
func (p *Project) SignaturePath() string {
	return p.DistributionPath() + sign.SignatureExt
}

func (p *Project) register() error {
	tasks := []task.Task{
		{
			Name:        TaskCompile,
			Description: "Compiles the plugin sources with the configured command",
			OnlyIf:      p.compiler.Configured,
			Action:      p.compileJava,
		},
		{
			Name:        TaskPatchDescriptor,
			Description: "Writes version, name and build range into plugin.xml",
			Action:      p.patchPluginXml,
		},
		{
			Name:        TaskJar,
			Description: "Assembles the plugin jar",
			DependsOn:   []string{TaskCompile, TaskPatchDescriptor},
			Action:      p.jar,
		},
		{
			Name:        TaskBuildPlugin,
			Description: "Assembles the plugin distribution zip",
			DependsOn:   []string{TaskJar},
			Action:      p.buildPlugin,
		},
		{
			Name:        TaskSign,
			Description: "Signs the plugin distribution",
			DependsOn:   []string{TaskBuildPlugin},
			OnlyIf:      func() bool { return p.Config.Signing.PrivateKey != "" },
			Action:      p.signPlugin,
		},
		{
			Name:        TaskVerify,
			Description: "Checks the descriptor, archive layout and signature",
			DependsOn:   []string{TaskSign},
			Action:      p.verifyPlugin,
		},
		{
			Name:        TaskPublish,
			Description: "Uploads the distribution to the marketplace",
			DependsOn:   []string{TaskVerify},
			Action:      p.publishPlugin,
		},
		{
			Name:        TaskIncrementVersion,
			Description: "Increments the stored patch version",
			Action:      p.incrementVersion,
		},
		{
			Name:        TaskRecordRelease,
			Description: "Records the release in the local history",
			OnlyIf:      func() bool { return p.ledger != nil },
			Action:      p.recordRelease,
		},
	}
	for _, t := range tasks {
		if err := p.graph.Register(t); err != nil {
			return err
		}
	}

	if p.Release {
		return p.graph.FinalizedBy(TaskBuildPlugin, TaskIncrementVersion, TaskRecordRelease)
	}
	return nil
}

func (p *Project) compileJava(ctx context.Context) error {
	res, err := p.compiler.Run(ctx)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(strings.TrimSpace(res.Output), "\n") {
		if line != "" {
			slog.Debug(line, "task", TaskCompile)
		}
	}
	slog.Info("compiled sources", "duration", res.Duration.Round(time.Millisecond))
	return nil
}

func (p *Project) patchPluginXml(context.Context) error {
	cfg := p.Config
	dst := p.PatchedDescriptorPath()
	err := descriptor.PatchFile(cfg.Path(cfg.Build.Descriptor), dst, descriptor.PatchOptions{
		Version:     p.Version,
		Name:        cfg.Plugin.Name,
		SinceBuild:  cfg.Plugin.SinceBuild,
		UntilBuild:  cfg.Plugin.UntilBuild,
		ChangeNotes: cfg.Plugin.ChangeNotes,
	})
	if err != nil {
		return err
	}
	slog.Debug("patched descriptor", "path", dst, "version", p.Version)
	return nil
}

func (p *Project) jar(context.Context) error {
	cfg := p.Config
	resources := ""
	if cfg.Build.ResourcesDir != "" {
		resources = cfg.Path(cfg.Build.ResourcesDir)
	}

	art, err := pack.Jar(pack.JarSpec{
		Path:         p.JarPath(),
		ClassesDir:   cfg.Path(cfg.Build.ClassesDir),
		ResourcesDir: resources,
		Descriptor:   p.PatchedDescriptorPath(),
		CreatedBy:    "smartim-build " + version.Version,
		Reproducible: cfg.Build.Reproducible,
	})
	if err != nil {
		return err
	}
	slog.Debug("assembled jar", "path", art.Path, "size", art.Size)
	return nil
}

func (p *Project) buildPlugin(context.Context) error {
	cfg := p.Config
	libs := make([]string, 0, len(cfg.Dependencies))
	for _, d := range cfg.Dependencies {
		libs = append(libs, d.JarPath(cfg))
	}

	art, err := pack.Distribution(pack.DistributionSpec{
		Path:         p.DistributionPath(),
		RootDir:      cfg.Build.ArtifactName,
		PluginJar:    p.JarPath(),
		Libraries:    libs,
		Reproducible: cfg.Build.Reproducible,
	})
	if err != nil {
		return err
	}
	p.distribution = art
	// A signature from an earlier build would not match the new archive.
	_ = os.Remove(p.SignaturePath())

	slog.Info("built plugin", "path", art.Path, "version", p.Version, "size", art.Size, "sha256", art.SHA256)
	return nil
}

func (p *Project) signPlugin(ctx context.Context) error {
	sig, err := sign.Sign(p.DistributionPath(), p.Config.Path(p.Config.Signing.PrivateKey))
	if err != nil {
		return err
	}
	slog.Info("signed plugin", "signature", sig)

	if p.releaseID != "" {
		return p.ledger.MarkSigned(ctx, p.releaseID)
	}
	return nil
}

func (p *Project) verifyPlugin(ctx context.Context) error {
	in := verify.Input{
		Descriptor:      p.PatchedDescriptorPath(),
		Distribution:    p.DistributionPath(),
		PluginJar:       p.JarName(),
		ExpectedVersion: p.Version,
	}
	if p.Config.Signing.PublicKey != "" {
		in.PublicKey = p.Config.Path(p.Config.Signing.PublicKey)
		in.Signature = p.SignaturePath()
	}

	report, err := verify.Run(ctx, in)
	if err != nil {
		return err
	}
	for _, w := range report.Warnings() {
		slog.Warn(w.Message, "check", w.Check)
	}
	if err := report.Err(); err != nil {
		return err
	}
	slog.Info("verified plugin", "version", p.Version)
	return nil
}

func (p *Project) publishPlugin(ctx context.Context) error {
	if !p.Release {
		return ErrReleaseRequired
	}
	if p.publisher == nil {
		return ErrNoPublisher
	}

	id, channel := p.Config.Plugin.ID, p.Config.Publishing.Channel
	latest, err := p.publisher.LatestVersion(ctx, id, channel)
	if err != nil {
		return err
	}
	if latest != "" {
		published, _, err := version.Parse(latest)
		if err != nil {
			return fmt.Errorf("marketplace returned %q: %w", latest, err)
		}
		if version.Compare(p.Number, published) <= 0 {
			return fmt.Errorf("%w: %s <= %s", ErrNotNewer, p.Version, latest)
		}
	}

	if err := p.publisher.Upload(ctx, id, channel, p.DistributionPath()); err != nil {
		return err
	}
	slog.Info("published plugin", "id", id, "version", p.Version, "channel", channel)
	return nil
}

func (p *Project) incrementVersion(context.Context) error {
	n, err := version.IncrementPatch(p.Config.Path(p.Config.Build.VersionFile))
	if err != nil {
		return err
	}
	fmt.Fprintf(p.Out, "Version incremented to %s\n", n)
	slog.Debug("incremented version", "path", p.Config.Build.VersionFile, "version", n.String())
	return nil
}

func (p *Project) recordRelease(ctx context.Context) error {
	art := p.distribution
	if art.Path == "" {
		size, sum, err := pack.Checksum(p.DistributionPath())
		if err != nil {
			return err
		}
		art = pack.Artifact{Path: p.DistributionPath(), Size: size, SHA256: sum}
	}

	_, statErr := os.Stat(p.SignaturePath())
	rel, err := p.ledger.Record(ctx, history.Release{
		PluginID: p.Config.Plugin.ID,
		Version:  p.Version,
		Artifact: art.Path,
		SHA256:   art.SHA256,
		Size:     art.Size,
		Signed:   statErr == nil,
	})
	if err != nil {
		return err
	}
	p.releaseID = rel.ID
	slog.Debug("recorded release", "id", rel.ID, "version", rel.Version)
	return nil
}
