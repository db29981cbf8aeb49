package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/doridoridoriand/netmon/internal/target"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	return writeTempFile(t, "netmon.conf", content)
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfigParsesTargetsAndGroups(t *testing.T) {
	configText := "" +
		"# netmon: ui.scale=25 ui.disable=true log.level=debug history.path=/tmp/h.db history.retention=48h\n" +
		"google ipv4 216.58.197.174\n" +
		"googleDNS ipv6 2001:4860:4860::8888 ping_count=4\n" +
		"---\n" +
		"router gateway\n" +
		"modem cable_modem\n"

	path := writeTempConfig(t, configText)
	parser := NetmonParser{}

	cfg, err := parser.LoadConfig(path, CLIOverrides{})
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if len(cfg.Targets) != 4 {
		t.Fatalf("expected 4 targets, got %d", len(cfg.Targets))
	}
	if cfg.Targets[0].Group != "" {
		t.Fatalf("expected empty group for first target, got %q", cfg.Targets[0].Group)
	}
	if cfg.Targets[2].Group != "group-1" || cfg.Targets[2].Type != "gateway" || cfg.Targets[2].Destination != "" {
		t.Fatalf("unexpected gateway target %+v", cfg.Targets[2])
	}
	if cfg.Targets[1].Options[OptPingCount] != "4" {
		t.Fatalf("expected ping_count option, got %+v", cfg.Targets[1].Options)
	}

	if cfg.Global.UIScale != 25 || !cfg.Global.UIDisable {
		t.Fatalf("unexpected ui options %+v", cfg.Global)
	}
	if cfg.Global.LogLevel != "debug" {
		t.Fatalf("expected log.level debug, got %q", cfg.Global.LogLevel)
	}
	if cfg.Global.HistoryPath != "/tmp/h.db" || cfg.Global.HistoryRetention != 48*time.Hour {
		t.Fatalf("unexpected history options %q %v", cfg.Global.HistoryPath, cfg.Global.HistoryRetention)
	}
}

func TestLoadConfigParsesNamedGroup(t *testing.T) {
	configText := "" +
		"resolver ipv4 8.8.8.8\n" +
		"--- DNS\n" +
		"public ipv4 1.1.1.1\n"

	cfg, err := NetmonParser{}.LoadConfig(writeTempConfig(t, configText), CLIOverrides{})
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if len(cfg.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(cfg.Targets))
	}
	if cfg.Targets[1].Group != "DNS" {
		t.Fatalf("expected group DNS, got %q", cfg.Targets[1].Group)
	}
}

func TestLoadConfigParsesDirectiveWithoutComment(t *testing.T) {
	configText := "" +
		"netmon: metrics.listen=9100 probe.timeout=30\n" +
		"example ipv4 192.0.2.1\n"

	cfg, err := NetmonParser{}.LoadConfig(writeTempConfig(t, configText), CLIOverrides{})
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Global.MetricsListen != ":9100" {
		t.Fatalf("expected metrics.listen :9100, got %q", cfg.Global.MetricsListen)
	}
	if cfg.Global.ProbeTimeout != 30*time.Second {
		t.Fatalf("expected probe.timeout 30s, got %v", cfg.Global.ProbeTimeout)
	}
}

func TestLoadConfigIgnoresComments(t *testing.T) {
	configText := "" +
		"# normal comment\n" +
		"\n" +
		"example uri https://example.com\n"

	cfg, err := NetmonParser{}.LoadConfig(writeTempConfig(t, configText), CLIOverrides{})
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if len(cfg.Targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(cfg.Targets))
	}
}

func TestLoadConfigRejectsInvalidLines(t *testing.T) {
	cases := map[string]string{
		"single field":       "invalidline\n",
		"missing dest":       "example ipv4\n",
		"unknown option":     "example ipv4 192.0.2.1 relay=jump1\n",
		"malformed option":   "example ipv4 192.0.2.1 ping_count=3 stray\n",
		"bad retention":      "# netmon: history.retention=notaduration\n",
		"bad ui.scale":       "netmon: ui.scale=big\n",
		"bad directive pair": "netmon: metrics.listen\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NetmonParser{}.LoadConfig(writeTempConfig(t, text), CLIOverrides{})
			if err == nil {
				t.Fatalf("expected error for %q", text)
			}
			if !strings.Contains(err.Error(), "line 1") {
				t.Fatalf("expected line number in %q", err)
			}
		})
	}
}

func TestLoadConfigAppliesCLIOverrides(t *testing.T) {
	configText := "" +
		"# netmon: metrics.listen=:9000 ui.disable=false log.level=warn\n" +
		"example ipv4 192.0.2.1\n"

	listen := "9200"
	disable := true
	level := "debug"
	dir := "/var/log/netmon"
	history := "/var/lib/netmon.db"
	scale := 25
	timeout := 4 * time.Second
	overrides := CLIOverrides{
		MetricsListen: &listen,
		UIDisable:     &disable,
		LogLevel:      &level,
		LogDir:        &dir,
		HistoryPath:   &history,
		UIScale:       &scale,
		ProbeTimeout:  &timeout,
	}

	cfg, err := NetmonParser{}.LoadConfig(writeTempConfig(t, configText), overrides)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	g := cfg.Global
	if g.MetricsListen != ":9200" || !g.UIDisable || g.LogLevel != "debug" || g.LogDir != dir || g.HistoryPath != history {
		t.Fatalf("overrides not applied: %+v", g)
	}
	if g.UIScale != 25 || g.ProbeTimeout != 4*time.Second {
		t.Fatalf("numeric overrides not applied: %+v", g)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := (NetmonParser{}).LoadConfig(filepath.Join(t.TempDir(), "absent.conf"), CLIOverrides{}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestParseTargetLineOptions(t *testing.T) {
	parser := NetmonParser{}
	tc, err := parser.ParseTargetLine("edge ipv4 192.0.2.10 ping_period=30s alerts=latency,loss", "group-1")
	if err != nil {
		t.Fatalf("ParseTargetLine error: %v", err)
	}
	if tc.Options[OptPingPeriod] != "30s" || tc.Options[OptAlerts] != "latency,loss" {
		t.Fatalf("expected options parsed, got %+v", tc.Options)
	}
	if tc.Group != "group-1" || tc.Destination != "192.0.2.10" {
		t.Fatalf("unexpected target %+v", tc)
	}
}

func TestParseTargetLineGatewayWithOptions(t *testing.T) {
	tc, err := NetmonParser{}.ParseTargetLine("router gateway ping_count=3", "")
	if err != nil {
		t.Fatalf("ParseTargetLine error: %v", err)
	}
	if tc.Destination != "" || tc.Options[OptPingCount] != "3" {
		t.Fatalf("unexpected target %+v", tc)
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	yamlText := `
global:
  metrics_listen: "9100"
  ui_disable: true
  log_level: debug
  history_path: /tmp/netmon.db
  history_retention: 24h
targets:
  - name: dns
    type: ipv4
    destination: 1.1.1.1
    group: public
    options:
      ping_count: 4
      expected_latency: 30
  - name: router
    type: gateway
`
	cfg, err := NetmonParser{}.LoadConfig(writeTempFile(t, "netmon.yaml", yamlText), CLIOverrides{})
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Global.MetricsListen != ":9100" || !cfg.Global.UIDisable || cfg.Global.HistoryRetention != 24*time.Hour {
		t.Fatalf("unexpected globals %+v", cfg.Global)
	}
	if cfg.Global.UIScale != 10 {
		t.Fatalf("expected default ui scale, got %d", cfg.Global.UIScale)
	}
	if len(cfg.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(cfg.Targets))
	}
	dns := cfg.Targets[0]
	if dns.Group != "public" || dns.Options[OptPingCount] != "4" || dns.Options[OptExpectedLatency] != "30" {
		t.Fatalf("unexpected yaml target %+v", dns)
	}
}

func TestLoadYAMLRejectsUnknownFields(t *testing.T) {
	yamlText := "targets:\n  - name: a\n    type: ipv4\n    destination: 192.0.2.1\n    adress: typo\n"
	if _, err := (NetmonParser{}).LoadConfig(writeTempFile(t, "netmon.yml", yamlText), CLIOverrides{}); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestEngineConfig(t *testing.T) {
	tc := TargetConfig{
		Name:        "edge",
		Type:        "IPv4",
		Destination: "192.0.2.1",
		Options: map[string]string{
			OptLossLimit:       "5",
			OptPacketSize:      "64",
			OptPingCount:       "4",
			OptPingInterval:    "2s",
			OptPingPeriod:      "30",
			OptPeakExpiration:  "1h",
			OptExpectedLatency: "80ms",
			OptExpectedJitter:  "15",
			OptFilterWindow:    "5m",
			OptAlerts:          "none",
		},
	}
	cfg, err := tc.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}
	want := target.Config{
		Type:                 target.TypeIPv4,
		Destination:          "192.0.2.1",
		LossLimit:            5,
		PacketSize:           64,
		PingCount:            4,
		PingInterval:         2 * time.Second,
		PingPeriod:           30 * time.Second,
		PeakExpiration:       time.Hour,
		ExpectedLatency:      80,
		ExpectedJitter:       15,
		DataFilterTimeWindow: 5 * time.Minute,
		AlertMask:            target.AlertNone,
	}
	if cfg != want {
		t.Fatalf("EngineConfig = %+v, want %+v", cfg, want)
	}
	if _, err := target.New(cfg); err != nil {
		t.Fatalf("converted config must build a target: %v", err)
	}
}

func TestEngineConfigDefaultsAndErrors(t *testing.T) {
	cfg, err := TargetConfig{Name: "a", Type: "uri", Destination: "example.com"}.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}
	if cfg.PingCount != target.DefaultConfig().PingCount || cfg.AlertMask != target.AlertAll {
		t.Fatalf("expected defaults, got %+v", cfg)
	}

	if _, err := (TargetConfig{Name: "a", Type: "icmp"}).EngineConfig(); !errors.Is(err, target.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for unknown type, got %v", err)
	}
	for _, key := range []string{OptPacketSize, OptPingCount, OptPingInterval, OptPingPeriod, OptExpectedLatency, OptExpectedJitter} {
		for _, val := range []string{"0", "-1"} {
			line := "gw ipv4 127.0.0.1 " + key + "=" + val
			tc, err := NetmonParser{}.ParseTargetLine(line, "")
			if err != nil {
				t.Fatalf("ParseTargetLine(%q): %v", line, err)
			}
			if _, err := tc.EngineConfig(); !errors.Is(err, target.ErrRange) || !strings.Contains(err.Error(), key) {
				t.Fatalf("%s: expected range error naming the option, got %v", line, err)
			}
		}
	}

	bad := TargetConfig{Name: "a", Type: "ipv4", Destination: "192.0.2.1", Options: map[string]string{OptPingCount: "many"}}
	if _, err := bad.EngineConfig(); err == nil || !strings.Contains(err.Error(), OptPingCount) {
		t.Fatalf("expected ping_count error, got %v", err)
	}
}
