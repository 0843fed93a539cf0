package commands

type RootArgs struct {
	logLevel   *string
	logFormat  *string
	projectDir *string
	configPath *string
}

func NewRootArgs() *RootArgs {
	return &RootArgs{
		logLevel:   new(string),
		logFormat:  new(string),
		projectDir: new(string),
		configPath: new(string),
	}
}

func (a *RootArgs) GetLogLevel() string {
	return *a.logLevel
}

func (a *RootArgs) GetLogFormat() string {
	return *a.logFormat
}

func (a *RootArgs) GetProjectDir() string {
	return *a.projectDir
}

// GetConfigPath returns the --config override; empty means the project's smartim-build.toml.
func (a *RootArgs) GetConfigPath() string {
	return *a.configPath
}
