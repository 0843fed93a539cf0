// Package config handles project build configuration via TOML files.
// Configuration is stored at <project>/smartim-build.toml and declares the
// plugin identity, the target IDE platform, library dependencies, and the
// packaging, signing, publishing and history settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
)

// FileName is the config file looked up in the project directory.
const FileName = "smartim-build.toml"

// Environment overrides.
const (
	EnvPublishToken = "SMARTIM_PUBLISH_TOKEN"
	EnvSigningKey   = "SMARTIM_SIGNING_KEY"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config holds project build configuration
type Config struct {
	Plugin       PluginConfig     `toml:"plugin"`
	Platform     PlatformConfig   `toml:"platform"`
	Dependencies []Dependency     `toml:"dependencies"`
	Build        BuildConfig      `toml:"build"`
	Signing      SigningConfig    `toml:"signing"`
	Publishing   PublishingConfig `toml:"publishing"`
	History      HistoryConfig    `toml:"history"`

	// Dir is the project directory relative paths are resolved against.
	Dir string `toml:"-"`
}

// PluginConfig holds the plugin identity written into the descriptor
type PluginConfig struct {
	ID         string `toml:"id"`
	Name       string `toml:"name"`
	Group      string `toml:"group"`
	Vendor     string `toml:"vendor"`
	SinceBuild string `toml:"since_build"`
	// UntilBuild may end in a wildcard, e.g. "999.*".
	UntilBuild  string `toml:"until_build"`
	ChangeNotes string `toml:"change_notes"`
}

// PlatformConfig names the IDE the plugin is built against
type PlatformConfig struct {
	// Type is the product code, IC for IntelliJ IDEA Community.
	Type    string `toml:"type"`
	Version string `toml:"version"`
}

// Dependency is a library bundled into the plugin's lib directory
type Dependency struct {
	Group    string `toml:"group"`
	Artifact string `toml:"artifact"`
	Version  string `toml:"version"`
	// Path overrides the local Maven repository lookup.
	Path string `toml:"path"`
}

// BuildConfig holds packaging inputs and outputs
type BuildConfig struct {
	ArtifactName   string   `toml:"artifact_name"`
	VersionFile    string   `toml:"version_file"`
	Descriptor     string   `toml:"descriptor"`
	ClassesDir     string   `toml:"classes_dir"`
	ResourcesDir   string   `toml:"resources_dir"`
	OutputDir      string   `toml:"output_dir"`
	CompileCommand []string `toml:"compile_command"`
	CompileTimeout string   `toml:"compile_timeout"`
	// Reproducible pins archive entry timestamps.
	Reproducible bool `toml:"reproducible"`
}

// SigningConfig holds ed25519 key locations
type SigningConfig struct {
	PrivateKey string `toml:"private_key"`
	PublicKey  string `toml:"public_key"`
}

// PublishingConfig holds marketplace settings
type PublishingConfig struct {
	Host    string `toml:"host"`
	Channel string `toml:"channel"`
	Token   string `toml:"token"`
}

// HistoryConfig holds the release ledger location
type HistoryConfig struct {
	Path string `toml:"path"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Plugin: PluginConfig{
			ID:         "com.example.smartim",
			Name:       "Smart IM Switcher",
			Group:      "com.example.smartim",
			Vendor:     "example",
			SinceBuild: "241",
			UntilBuild: "999.*",
		},
		Platform: PlatformConfig{
			Type:    "IC",
			Version: "2024.3",
		},
		Dependencies: []Dependency{
			{Group: "net.java.dev.jna", Artifact: "jna", Version: "5.14.0"},
			{Group: "net.java.dev.jna", Artifact: "jna-platform", Version: "5.14.0"},
		},
		Build: BuildConfig{
			ArtifactName:   "smart-im-switcher",
			VersionFile:    "version.properties",
			Descriptor:     filepath.Join("src", "main", "resources", "META-INF", "plugin.xml"),
			ClassesDir:     filepath.Join("build", "classes", "java", "main"),
			ResourcesDir:   filepath.Join("src", "main", "resources"),
			OutputDir:      "build",
			CompileTimeout: "5m",
		},
		Publishing: PublishingConfig{
			Host:    "https://plugins.jetbrains.com",
			Channel: "default",
		},
		History: HistoryConfig{
			Path: "~/.smartim-build/history.db",
		},
	}
}

// ConfigPath returns the path to the config file of a project
func ConfigPath(projectDir string) string {
	return filepath.Join(projectDir, FileName)
}

// Load reads config from disk or returns defaults.
// An empty path means the project's smartim-build.toml.
func Load(projectDir, path string) (Config, error) {
	cfg := Default()

	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return cfg, err
	}
	cfg.Dir = abs

	if path == "" {
		path = ConfigPath(abs)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// No config file, return defaults
			return cfg.withEnv(), nil
		}
		return cfg, err
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return cfg.withEnv(), nil
}

// Save writes config to disk
func Save(path string, cfg Config) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func (c Config) withEnv() Config {
	if v := os.Getenv(EnvPublishToken); v != "" {
		c.Publishing.Token = v
	}
	if v := os.Getenv(EnvSigningKey); v != "" {
		c.Signing.PrivateKey = v
	}
	return c
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var merr *multierror.Error

	required := []struct {
		name, value string
	}{
		{"plugin.id", c.Plugin.ID},
		{"plugin.name", c.Plugin.Name},
		{"plugin.since_build", c.Plugin.SinceBuild},
		{"platform.type", c.Platform.Type},
		{"platform.version", c.Platform.Version},
		{"build.artifact_name", c.Build.ArtifactName},
		{"build.version_file", c.Build.VersionFile},
		{"build.descriptor", c.Build.Descriptor},
		{"build.classes_dir", c.Build.ClassesDir},
		{"build.output_dir", c.Build.OutputDir},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			merr = multierror.Append(merr, fmt.Errorf("%s is required", r.name))
		}
	}

	if strings.ContainsAny(c.Build.ArtifactName, `/\ `) {
		merr = multierror.Append(merr, fmt.Errorf("build.artifact_name %q must not contain separators or spaces", c.Build.ArtifactName))
	}

	if _, err := c.CompileTimeout(); err != nil {
		merr = multierror.Append(merr, err)
	}

	for i, d := range c.Dependencies {
		if d.Path != "" {
			continue
		}
		if d.Group == "" || d.Artifact == "" || d.Version == "" {
			merr = multierror.Append(merr, fmt.Errorf("dependencies[%d] needs group, artifact and version or a path", i))
		}
	}

	if err := merr.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// CompileTimeout parses build.compile_timeout, defaulting to five minutes.
func (c Config) CompileTimeout() (time.Duration, error) {
	if c.Build.CompileTimeout == "" {
		return 5 * time.Minute, nil
	}
	d, err := time.ParseDuration(c.Build.CompileTimeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("build.compile_timeout %q is not a positive duration", c.Build.CompileTimeout)
	}
	return d, nil
}

// Path resolves p against the project directory. "~/" expands to the home directory.
func (c Config) Path(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	if filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// Coordinates returns group:artifact:version.
func (d Dependency) Coordinates() string {
	return d.Group + ":" + d.Artifact + ":" + d.Version
}

// JarPath returns the dependency jar, from Path or the local Maven repository.
func (d Dependency) JarPath(c Config) string {
	if d.Path != "" {
		return c.Path(d.Path)
	}
	return filepath.Join(
		MavenRepository(),
		filepath.Join(strings.Split(d.Group, ".")...),
		d.Artifact,
		d.Version,
		d.Artifact+"-"+d.Version+".jar",
	)
}

// MavenRepository returns the local Maven repository root.
func MavenRepository() string {
	if v := os.Getenv("MAVEN_REPO_LOCAL"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".m2", "repository")
}
