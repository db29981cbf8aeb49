package config

import "time"

// GlobalOptions holds global settings parsed from config and CLI overrides.
type GlobalOptions struct {
	MetricsListen string
	UIScale       int
	UIDisable     bool
	LogLevel      string
	// LogDir enables the rotating file log when set.
	LogDir string
	// HistoryPath enables the SQLite round history when set.
	HistoryPath      string
	HistoryRetention time.Duration
	// ProbeTimeout kills ping processes that outlive it. Zero waits forever.
	ProbeTimeout time.Duration
}

// TargetConfig represents a single target definition.
type TargetConfig struct {
	Name        string
	Type        string
	Destination string
	Group       string
	Options     map[string]string
}

// Config is the parsed configuration file with global settings.
type Config struct {
	Targets []TargetConfig
	Global  GlobalOptions
}

// CLIOverrides holds optional CLI values that override config file values.
type CLIOverrides struct {
	MetricsListen *string
	UIDisable     *bool
	LogLevel      *string
	LogDir        *string
	HistoryPath   *string
	UIScale       *int
	ProbeTimeout  *time.Duration
}

// Parser defines config parsing behavior.
type Parser interface {
	LoadConfig(path string, overrides CLIOverrides) (*Config, error)
	ParseNetmonDirective(line string) (map[string]string, error)
	ParseTargetLine(line string, group string) (TargetConfig, error)
}
