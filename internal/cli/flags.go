package cli

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/doridoridoriand/netmon/internal/config"
)

// Flags are the parsed command line options.
type Flags struct {
	MetricsListen OptionalString
	NoUI          OptionalBool
	LogLevel      OptionalString
	LogDir        OptionalString
	History       OptionalString
	UIScale       OptionalInt
	ProbeTimeout  OptionalDuration
	Version       bool
	ConfigPath    string
}

// Parse reads args (without the program name). A config path is required
// unless the version was requested.
func Parse(name string, args []string, output io.Writer) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.Var(&f.MetricsListen, "metrics-listen", "metrics and API listen address (e.g. :9100)")
	fs.Var(&f.NoUI, "no-ui", "disable TUI (log only)")
	fs.Var(&f.LogLevel, "log-level", "log level: debug|info|warn|error")
	fs.Var(&f.LogDir, "log-dir", "write rotating logs to this directory")
	fs.Var(&f.History, "history", "sqlite file for round history")
	fs.Var(&f.UIScale, "ui-scale", "milliseconds per bar cell")
	fs.Var(&f.ProbeTimeout, "probe-timeout", "per-probe timeout (override config)")
	fs.BoolVar(&f.Version, "version", false, "show version")
	fs.BoolVar(&f.Version, "v", false, "show version")

	fs.Usage = func() {
		fmt.Fprintf(output, "usage: %s [options] <config-file>\n\n", name)
		fmt.Fprintln(output, "Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.Version {
		return f, nil
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return nil, fmt.Errorf("config file is required")
	}
	f.ConfigPath = fs.Arg(0)
	return f, nil
}

// Overrides converts the flags that were set into config overrides.
func (f *Flags) Overrides() config.CLIOverrides {
	overrides := config.CLIOverrides{}

	if v, ok := f.MetricsListen.Value(); ok && v != "" {
		value := v
		overrides.MetricsListen = &value
	}
	if v, ok := f.NoUI.Value(); ok {
		value := v
		overrides.UIDisable = &value
	}
	if v, ok := f.LogLevel.Value(); ok && v != "" {
		value := v
		overrides.LogLevel = &value
	}
	if v, ok := f.LogDir.Value(); ok {
		value := v
		overrides.LogDir = &value
	}
	if v, ok := f.History.Value(); ok {
		value := v
		overrides.HistoryPath = &value
	}
	if v, ok := f.UIScale.Value(); ok {
		value := v
		overrides.UIScale = &value
	}
	if v, ok := f.ProbeTimeout.Value(); ok {
		value := v
		overrides.ProbeTimeout = &value
	}
	return overrides
}

// OptionalDuration records a duration flag and whether it was set.
type OptionalDuration struct {
	value time.Duration
	set   bool
}

func (o *OptionalDuration) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if v <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	o.value = v
	o.set = true
	return nil
}

func (o *OptionalDuration) String() string {
	if !o.set {
		return ""
	}
	return o.value.String()
}

func (o *OptionalDuration) Value() (time.Duration, bool) {
	return o.value, o.set
}

// OptionalInt records a positive int flag and whether it was set.
type OptionalInt struct {
	value int
	set   bool
}

func (o *OptionalInt) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 {
		return fmt.Errorf("value must be positive")
	}
	o.value = v
	o.set = true
	return nil
}

func (o *OptionalInt) String() string {
	if !o.set {
		return ""
	}
	return strconv.Itoa(o.value)
}

func (o *OptionalInt) Value() (int, bool) {
	return o.value, o.set
}

// OptionalString records a string flag and whether it was set.
type OptionalString struct {
	value string
	set   bool
}

func (o *OptionalString) Set(s string) error {
	o.value = s
	o.set = true
	return nil
}

func (o *OptionalString) String() string {
	if !o.set {
		return ""
	}
	return o.value
}

func (o *OptionalString) Value() (string, bool) {
	return o.value, o.set
}

// OptionalBool records a bool flag and whether it was set.
type OptionalBool struct {
	value bool
	set   bool
}

func (o *OptionalBool) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	o.value = v
	o.set = true
	return nil
}

func (o *OptionalBool) String() string {
	if !o.set {
		return ""
	}
	return strconv.FormatBool(o.value)
}

func (o *OptionalBool) IsBoolFlag() bool {
	return true
}

func (o *OptionalBool) Value() (bool, bool) {
	return o.value, o.set
}
