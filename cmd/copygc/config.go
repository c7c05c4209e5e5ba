package main

import (
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/inhies/go-bytesize"
	"golang.org/x/exp/slog"
	"gopkg.in/yaml.v2"

	"github.com/tinygo-org/copygc/gc"
)

// Size is a heap size in whole mebibytes. In a config file or on the command
// line it is written either as a plain number of mebibytes ("16") or with a
// unit ("16MB", "1GB").
type Size uint32

func parseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return Size(n), nil
	}
	b, err := bytesize.Parse(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid heap size %q", s)
	}
	mb := float64(b) / float64(bytesize.MB)
	if mb != math.Trunc(mb) || mb < 0 || mb > math.MaxUint32 {
		return 0, errors.Newf("heap size %q is not a whole number of MB", s)
	}
	return Size(mb), nil
}

// String implements flag.Value.
func (s Size) String() string {
	return strconv.FormatUint(uint64(s), 10) + "MB"
}

// Set implements flag.Value.
func (s *Size) Set(value string) error {
	size, err := parseSize(value)
	if err != nil {
		return err
	}
	*s = size
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var text string
	if err := unmarshal(&text); err != nil {
		return err
	}
	return s.Set(text)
}

// MarshalYAML implements yaml.Marshaler.
func (s Size) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// Config holds the settings of a run. It is read from a YAML file and then
// overridden by command line flags.
type Config struct {
	Heap     Size   `yaml:"heap"`
	Elements int32  `yaml:"elements"`
	Reverses int32  `yaml:"reverses"`
	Verify   bool   `yaml:"verify"`
	LogLevel string `yaml:"log-level"`
	Report   string `yaml:"report"`
}

func defaultConfig() Config {
	return Config{
		Heap:     16,
		Elements: 10000,
		Reverses: 10,
		LogLevel: "info",
	}
}

// loadConfig reads the config file at path on top of the defaults. An empty
// path returns the defaults. Unknown keys are an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "could not read config")
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "could not parse config %s", path)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Heap == 0 || c.Heap >= gc.MaxSizeMB {
		return errors.Wrapf(gc.ErrInvalidConfiguration, "heap must be between 1MB and %dMB, not %s", gc.MaxSizeMB-1, c.Heap)
	}
	if c.Elements < 0 {
		return errors.Newf("elements must not be negative: %d", c.Elements)
	}
	if c.Reverses < 0 {
		return errors.Newf("reverses must not be negative: %d", c.Reverses)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	return nil
}

func (c Config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, errors.Wrapf(err, "invalid log-level %q", c.LogLevel)
	}
	return level, nil
}
