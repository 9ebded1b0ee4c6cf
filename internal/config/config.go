// Package config holds the server configuration. Values are layered:
// defaults, then an optional TOML file, then the LSP initializationOptions,
// then workspace/didChangeConfiguration settings. Each layer overwrites only
// the keys it mentions.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("loom.config")

// Duration is a time.Duration written as a string such as "250ms".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", b)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	RegenerationDelay      Duration `toml:"regeneration_delay" json:"regeneration_delay"`
	DiagnosticsClearDelay  Duration `toml:"diagnostics_clear_delay" json:"diagnostics_clear_delay"`
	OutputSweepInterval    Duration `toml:"output_sweep_interval" json:"output_sweep_interval"`
	MaxTrackingCount       int      `toml:"max_tracking_count" json:"max_tracking_count"`
	IgnoredDiagnosticCodes []string `toml:"ignored_diagnostic_codes" json:"ignored_diagnostic_codes"`
	LineDiffThreshold      int      `toml:"line_diff_threshold" json:"line_diff_threshold"`
	Workers                int      `toml:"workers" json:"workers"`
	StorePath              string   `toml:"store_path" json:"store_path"`
	Extensions             []string `toml:"extensions" json:"extensions"`
	RootPackage            string   `toml:"root_package" json:"root_package"`
	Analyzers              bool     `toml:"analyzers" json:"analyzers"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		RegenerationDelay:     Duration(200 * time.Millisecond),
		DiagnosticsClearDelay: Duration(2 * time.Second),
		OutputSweepInterval:   Duration(30 * time.Second),
		MaxTrackingCount:      10,
		LineDiffThreshold:     64 << 10,
		Workers:               runtime.GOMAXPROCS(0),
		StorePath:             DefaultStorePath(),
		Extensions:            []string{".tmpl", ".loom"},
		RootPackage:           "views",
		Analyzers:             true,
	}
}

// Load overlays the JSON representation of v onto the defaults.
func Load(v any) (Config, error) {
	return Default().Overlay(v)
}

// Overlay returns c with the fields present in v overwritten. v is
// typically the decoded initializationOptions or settings value of an LSP
// message.
func (c Config) Overlay(v any) (Config, error) {
	if v == nil {
		return c, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Config{}, fmt.Errorf("failed to marshal source: %w", err)
	}
	if string(data) == "null" {
		return c, nil
	}

	// only fields present in src will overwrite.
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal into Config: %w", err)
	}
	return c, c.Validate()
}

// LoadFromJSON reads JSON from r on top of the defaults.
func LoadFromJSON(r io.Reader) (Config, error) {
	cfg := Default()
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// LoadFile reads a TOML file on top of the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		log.Warning("unknown configuration key", "file", path, "key", key.String())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxTrackingCount <= 0 {
		return fmt.Errorf("max_tracking_count must be positive, got %d", c.MaxTrackingCount)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.LineDiffThreshold < 0 {
		return fmt.Errorf("line_diff_threshold must not be negative, got %d", c.LineDiffThreshold)
	}
	if c.RootPackage == "" {
		return fmt.Errorf("root_package must not be empty")
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	return nil
}

// DefaultStorePath is the project database under the XDG state directory.
func DefaultStorePath() string {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "loom", "projects.db")
		}
		stateHome = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateHome, "loom", "projects.db")
}
