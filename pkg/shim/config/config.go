// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the configuration of a drmshim process.
//
// Values come from command line flags and, optionally, a TOML file named by
// --config. Flags given explicitly on the command line win over the file.
package config

import (
	"flag"
	"fmt"
	"reflect"
	"strconv"

	"github.com/BurntSushi/toml"
	"gvisor.dev/drmshim/pkg/hostarch"
	"gvisor.dev/drmshim/pkg/log"
	"gvisor.dev/drmshim/pkg/refs"
	"gvisor.dev/drmshim/pkg/shim"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// maxRenderNodeCandidates is the size of the kernel's render minor range.
const maxRenderNodeCandidates = 64

// Config holds the configuration of the shim and its command line tool.
//
// Fields with a flag tag are populated by NewFromFlags. Fields with a toml
// tag may also be set from the configuration file.
type Config struct {
	// ConfigFile is the path of an optional TOML configuration file.
	ConfigFile string `flag:"config" toml:"-"`

	// Driver names the simulated driver.
	Driver string `flag:"driver" toml:"driver"`

	// Profile is the path of a YAML driver profile. Empty selects the
	// driver's built-in profile.
	Profile string `flag:"profile" toml:"profile"`

	// RenderNodeCandidates is the number of render minors scanned for a
	// free node.
	RenderNodeCandidates int `flag:"render-node-candidates" toml:"render_node_candidates"`

	// BackingStoreSize is the size in bytes of the simulated device address
	// space.
	BackingStoreSize uint64 `flag:"backing-store-size" toml:"backing_store_size"`

	// Debug enables debug logging. It takes precedence over LogLevel.
	Debug bool `flag:"debug" toml:"debug"`

	// LogLevel is the minimum level logged: warning, info or debug.
	LogLevel string `flag:"log-level" toml:"log_level"`

	// LogFilename is the path where log output goes. Empty means stderr.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format, text or json.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// ReportPath is the path where unsupported ioctl records are streamed.
	// Empty disables the stream.
	ReportPath string `flag:"report" toml:"report"`

	// ReferenceLeak sets the reference leak check mode.
	ReferenceLeak refs.LeakMode `flag:"ref-leak-mode" toml:"ref_leak_mode"`
}

func leakModePtr(v refs.LeakMode) *refs.LeakMode {
	return &v
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "path to a TOML configuration file. Flags given on the command line override it.")

	// Device flags.
	flagSet.String("driver", "generic", "name of the simulated driver.")
	flagSet.String("profile", "", "path to a YAML driver profile. Empty uses the driver's built-in profile.")
	flagSet.Int("render-node-candidates", shim.DefaultRenderNodeCandidates, "number of render node minors scanned for a free node.")
	flagSet.Uint64("backing-store-size", shim.DefaultBackingStoreSize, "size in bytes of the simulated device address space.")

	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log-level", "warning", "minimum log level: warning (default), info, or debug.")
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", LogFormatText, "log format: text (default) or json.")
	flagSet.String("report", "", "file path where unsupported ioctl records are written.")
	flagSet.Var(leakModePtr(refs.NoLeakChecking), "ref-leak-mode", "sets reference leak check mode: disabled (default), warning, panic.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags and the configuration file they name.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	conf.setFromFlags(flagSet, flagSet.VisitAll)

	if conf.ConfigFile != "" {
		if _, err := toml.DecodeFile(conf.ConfigFile, conf); err != nil {
			return nil, fmt.Errorf("decode config file %q: %w", conf.ConfigFile, err)
		}
		conf.setFromFlags(flagSet, flagSet.Visit)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Load returns the default configuration overlaid with the TOML file at path.
func Load(path string) (*Config, error) {
	flagSet := flag.NewFlagSet("defaults", flag.ContinueOnError)
	RegisterFlags(flagSet)
	conf := &Config{}
	conf.setFromFlags(flagSet, flagSet.VisitAll)
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, fmt.Errorf("decode config file %q: %w", path, err)
	}
	conf.ConfigFile = path
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// setFromFlags copies the value of every flag passed to visit into the
// field tagged with its name.
func (c *Config) setFromFlags(flagSet *flag.FlagSet, visit func(func(*flag.Flag))) {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	fields := make(map[string]int, st.NumField())
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		if flagSet.Lookup(name) == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		fields[name] = i
	}
	visit(func(fl *flag.Flag) {
		i, ok := fields[fl.Name]
		if !ok {
			// Not a configuration flag.
			return
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	})
}

// ToFlags returns a slice of flags that correspond to the given Config.
// Values equal to the flag default are omitted.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		val := getVal(obj.Field(i))
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", fl.Name, val))
	}
	return rv
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}

// Validate checks that c describes a usable configuration.
func (c *Config) Validate() error {
	if c.Driver == "" {
		return fmt.Errorf("driver name is required")
	}
	if c.RenderNodeCandidates <= 0 || c.RenderNodeCandidates > maxRenderNodeCandidates {
		return fmt.Errorf("render-node-candidates must be in [1, %d], got %d", maxRenderNodeCandidates, c.RenderNodeCandidates)
	}
	if c.BackingStoreSize == 0 || c.BackingStoreSize%hostarch.PageSize != 0 {
		return fmt.Errorf("backing-store-size must be a non-zero multiple of %d, got %d", hostarch.PageSize, c.BackingStoreSize)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	return nil
}

// Level returns the log level c selects.
func (c *Config) Level() log.Level {
	if c.Debug {
		return log.Debug
	}
	lv, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.Warning
	}
	return lv
}

// ShimOptions returns the shim options described by c for the given
// driver. Metrics, the report and the resolver are left to the caller.
func (c *Config) ShimOptions(drv shim.Driver) shim.Options {
	return shim.Options{
		Driver:               drv,
		RenderNodeCandidates: c.RenderNodeCandidates,
		BackingStoreSize:     c.BackingStoreSize,
	}
}
