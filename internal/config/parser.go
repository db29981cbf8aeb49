package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const directivePrefix = "netmon:"

// NetmonParser implements the Parser interface.
type NetmonParser struct{}

// DefaultGlobalOptions returns baseline settings used before config overrides.
func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		MetricsListen:    "",
		UIScale:          10,
		UIDisable:        false,
		LogLevel:         "info",
		HistoryRetention: 7 * 24 * time.Hour,
	}
}

// LoadConfig parses a netmon.conf file, or a YAML file when the extension says so, and
// applies CLI overrides.
func (p NetmonParser) LoadConfig(path string, overrides CLIOverrides) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = parseYAML(file)
	default:
		cfg, err = p.parseLines(file)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	applyCLIOverrides(&cfg.Global, overrides)
	return cfg, nil
}

func (p NetmonParser) parseLines(r io.Reader) (*Config, error) {
	cfg := &Config{Global: DefaultGlobalOptions()}

	scanner := bufio.NewScanner(r)
	groupIndex := 0
	currentGroup := ""
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, "# "+directivePrefix) || strings.HasPrefix(line, "#"+directivePrefix) {
				if err := p.applyDirectiveLine(&cfg.Global, line); err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
			}
			continue
		}

		if strings.HasPrefix(line, directivePrefix) {
			if err := p.applyDirectiveLine(&cfg.Global, line); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			continue
		}

		if strings.HasPrefix(line, "---") {
			groupIndex++
			groupName := strings.TrimSpace(strings.TrimLeft(line, "-"))
			if groupName == "" {
				groupName = fmt.Sprintf("group-%d", groupIndex)
			}
			currentGroup = groupName
			continue
		}

		target, err := p.ParseTargetLine(line, currentGroup)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		cfg.Targets = append(cfg.Targets, target)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p NetmonParser) applyDirectiveLine(global *GlobalOptions, line string) error {
	pairs, err := p.ParseNetmonDirective(line)
	if err != nil {
		return err
	}
	return applyDirective(global, pairs)
}

// ParseNetmonDirective extracts key=value pairs from a directive line.
func (p NetmonParser) ParseNetmonDirective(line string) (map[string]string, error) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "#") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
	}
	if !strings.HasPrefix(trimmed, directivePrefix) {
		return nil, fmt.Errorf("directive line must start with '# netmon:' or 'netmon:': %q", line)
	}
	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, directivePrefix))

	pairs := make(map[string]string)
	for _, token := range strings.Fields(payload) {
		kv := strings.SplitN(token, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("invalid directive token: %q", token)
		}
		pairs[kv[0]] = kv[1]
	}
	return pairs, nil
}

// ParseTargetLine parses "name type destination [key=value ...]". Gateway and cable modem
// targets may omit the destination.
func (p NetmonParser) ParseTargetLine(line string, group string) (TargetConfig, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return TargetConfig{}, fmt.Errorf("invalid target line: %q", line)
	}

	target := TargetConfig{
		Name:    fields[0],
		Type:    strings.ToLower(fields[1]),
		Group:   group,
		Options: map[string]string{},
	}

	rest := fields[2:]
	if len(rest) > 0 && !strings.Contains(rest[0], "=") {
		target.Destination = rest[0]
		rest = rest[1:]
	} else if !destinationOptional(target.Type) {
		return TargetConfig{}, fmt.Errorf("target %q: missing destination", target.Name)
	}

	for _, field := range rest {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return TargetConfig{}, fmt.Errorf("invalid target option: %q", field)
		}
		if !knownOption(kv[0]) {
			return TargetConfig{}, fmt.Errorf("target %q: unknown option %q", target.Name, kv[0])
		}
		target.Options[kv[0]] = kv[1]
	}

	return target, nil
}

func destinationOptional(kind string) bool {
	switch kind {
	case "gateway", "cable_modem", "cablemodem", "cable-modem":
		return true
	}
	return false
}

func applyDirective(global *GlobalOptions, pairs map[string]string) error {
	for key, val := range pairs {
		switch key {
		case "metrics.listen":
			global.MetricsListen = normalizeListen(val)
		case "ui.scale":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid ui.scale: %w", err)
			}
			global.UIScale = n
		case "ui.disable":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("invalid ui.disable: %w", err)
			}
			global.UIDisable = b
		case "log.level":
			global.LogLevel = val
		case "log.dir":
			global.LogDir = val
		case "history.path":
			global.HistoryPath = val
		case "history.retention":
			d, err := parseDuration(val)
			if err != nil {
				return fmt.Errorf("invalid history.retention: %w", err)
			}
			global.HistoryRetention = d
		case "probe.timeout":
			d, err := parseDuration(val)
			if err != nil {
				return fmt.Errorf("invalid probe.timeout: %w", err)
			}
			global.ProbeTimeout = d
		default:
			// Ignore unknown keys for forward compatibility.
		}
	}
	return nil
}

func applyCLIOverrides(global *GlobalOptions, overrides CLIOverrides) {
	if overrides.MetricsListen != nil {
		global.MetricsListen = normalizeListen(*overrides.MetricsListen)
	}
	if overrides.UIDisable != nil {
		global.UIDisable = *overrides.UIDisable
	}
	if overrides.LogLevel != nil {
		global.LogLevel = *overrides.LogLevel
	}
	if overrides.LogDir != nil {
		global.LogDir = *overrides.LogDir
	}
	if overrides.HistoryPath != nil {
		global.HistoryPath = *overrides.HistoryPath
	}
	if overrides.UIScale != nil && *overrides.UIScale > 0 {
		global.UIScale = *overrides.UIScale
	}
	if overrides.ProbeTimeout != nil && *overrides.ProbeTimeout > 0 {
		global.ProbeTimeout = *overrides.ProbeTimeout
	}
}

// normalizeListen turns a bare port into ":port".
func normalizeListen(val string) string {
	if isDigits(val) {
		return ":" + val
	}
	return val
}

// parseDuration accepts Go durations and plain numbers of seconds.
func parseDuration(val string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(val)
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
