package config

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

type yamlGlobal struct {
	MetricsListen    string `yaml:"metrics_listen"`
	UIScale          *int   `yaml:"ui_scale"`
	UIDisable        bool   `yaml:"ui_disable"`
	LogLevel         string `yaml:"log_level"`
	LogDir           string `yaml:"log_dir"`
	HistoryPath      string `yaml:"history_path"`
	HistoryRetention string `yaml:"history_retention"`
	ProbeTimeout     string `yaml:"probe_timeout"`
}

type yamlTarget struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"`
	Destination string            `yaml:"destination"`
	Group       string            `yaml:"group"`
	Options     map[string]string `yaml:"options"`
}

type yamlFile struct {
	Global  yamlGlobal   `yaml:"global"`
	Targets []yamlTarget `yaml:"targets"`
}

func parseYAML(r io.Reader) (*Config, error) {
	var doc yamlFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg := &Config{Global: DefaultGlobalOptions()}
	g := doc.Global
	if g.MetricsListen != "" {
		cfg.Global.MetricsListen = normalizeListen(g.MetricsListen)
	}
	if g.UIScale != nil {
		cfg.Global.UIScale = *g.UIScale
	}
	cfg.Global.UIDisable = g.UIDisable
	if g.LogLevel != "" {
		cfg.Global.LogLevel = g.LogLevel
	}
	cfg.Global.LogDir = g.LogDir
	cfg.Global.HistoryPath = g.HistoryPath
	if g.HistoryRetention != "" {
		d, err := parseDuration(g.HistoryRetention)
		if err != nil {
			return nil, fmt.Errorf("invalid history_retention: %w", err)
		}
		cfg.Global.HistoryRetention = d
	}
	if g.ProbeTimeout != "" {
		d, err := parseDuration(g.ProbeTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid probe_timeout: %w", err)
		}
		cfg.Global.ProbeTimeout = d
	}

	for i, t := range doc.Targets {
		if t.Name == "" || t.Type == "" {
			return nil, fmt.Errorf("target %d: name and type are required", i)
		}
		tc := TargetConfig{
			Name:        t.Name,
			Type:        strings.ToLower(t.Type),
			Destination: t.Destination,
			Group:       t.Group,
			Options:     map[string]string{},
		}
		if tc.Destination == "" && !destinationOptional(tc.Type) {
			return nil, fmt.Errorf("target %q: missing destination", t.Name)
		}
		for k, v := range t.Options {
			if !knownOption(k) {
				return nil, fmt.Errorf("target %q: unknown option %q", t.Name, k)
			}
			tc.Options[k] = v
		}
		cfg.Targets = append(cfg.Targets, tc)
	}
	return cfg, nil
}
