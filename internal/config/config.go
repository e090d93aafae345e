// Package config loads and validates the engine configuration: YAML on
// disk, checked against a CUE schema before any component sees it, so a
// malformed file fails loudly at startup instead of surfacing as a
// half-wired engine.
package config

import (
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/opsledger/opsledger/internal/eventlog"
	"github.com/opsledger/opsledger/internal/leader"
)

// Backend names accepted under log.backend.
const (
	BackendFile   = "file"
	BackendObject = "object"
	BackendSQLite = "sqlite"
)

// Duration wraps time.Duration with YAML text parsing ("15s", "2m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ByteSize wraps datasize.ByteSize with YAML text parsing ("64MB").
type ByteSize datasize.ByteSize

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	var parsed datasize.ByteSize
	if err := parsed.UnmarshalText([]byte(raw)); err != nil {
		return fmt.Errorf("invalid byte size %q: %w", raw, err)
	}
	*b = ByteSize(parsed)
	return nil
}

// Config is the full engine configuration.
type Config struct {
	// HashVersion selects the canonical hash payload for newly appended
	// events ("v1" or "v2"); reads auto-detect per event.
	HashVersion string `yaml:"hash_version"`

	// WriterID is embedded into every event's meta. Stable across
	// restarts for a given replica identity.
	WriterID string `yaml:"writer_id"`

	Log         LogConfig         `yaml:"log"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Leader      LeaderConfig      `yaml:"leader"`
	Retry       RetryConfig       `yaml:"retry"`
}

// LogConfig selects and parameterizes the event-log backend.
type LogConfig struct {
	Backend string `yaml:"backend"`

	// Path is the log directory (file backend) or database file (sqlite).
	Path string `yaml:"path"`

	// SegmentMaxBytes and SegmentMaxCount are the file backend's rotation
	// thresholds; zero disables rotation.
	SegmentMaxBytes ByteSize `yaml:"segment_max_bytes"`
	SegmentMaxCount int64    `yaml:"segment_max_count"`
}

// ObjectStoreConfig locates the object-store backend.
type ObjectStoreConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Bucket         string `yaml:"bucket"`
	Prefix         string `yaml:"prefix"`
	Region         string `yaml:"region"`
	CredentialsRef string `yaml:"credentials_ref"`
}

// LeaderConfig carries the leader-gate timings.
type LeaderConfig struct {
	LeaseNamespace string   `yaml:"lease_namespace"`
	LeaseName      string   `yaml:"lease_name"`
	LeaseDuration  Duration `yaml:"lease_duration"`
	RenewDeadline  Duration `yaml:"renew_deadline"`
	RetryPeriod    Duration `yaml:"retry_period"`
}

// RetryConfig carries the append retry parameters.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseBackoff Duration `yaml:"base_backoff"`
	JitterCap   Duration `yaml:"jitter_cap"`
}

// Timings converts to the gate's parameter struct.
func (l LeaderConfig) Timings() leader.Timings {
	return leader.Timings{
		LeaseDuration: l.LeaseDuration.Std(),
		RenewDeadline: l.RenewDeadline.Std(),
		RetryPeriod:   l.RetryPeriod.Std(),
	}
}

// Policy converts to the event-log retry policy.
func (r RetryConfig) Policy() eventlog.RetryPolicy {
	return eventlog.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		BaseBackoff: r.BaseBackoff.Std(),
		JitterCap:   r.JitterCap.Std(),
	}
}

// Load reads, schema-validates, and decodes a config file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw, path)
}

// Parse validates raw YAML against the schema and decodes it. The filename
// only labels diagnostics.
func Parse(raw []byte, filename string) (Config, error) {
	if err := validateSchema(raw, filename); err != nil {
		return Config{}, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration: v1 hashing, file backend in
// ./log, platform-usual lease timings.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		HashVersion: "v1",
		Log: LogConfig{
			Backend: BackendFile,
			Path:    "./log",
		},
		ObjectStore: ObjectStoreConfig{
			Prefix: "events",
		},
		Leader: LeaderConfig{
			LeaseNamespace: "default",
			LeaseName:      "opsledger-writer",
			LeaseDuration:  Duration(leader.DefaultTimings.LeaseDuration),
			RenewDeadline:  Duration(leader.DefaultTimings.RenewDeadline),
			RetryPeriod:    Duration(leader.DefaultTimings.RetryPeriod),
		},
		Retry: RetryConfig{
			MaxAttempts: eventlog.DefaultRetryPolicy.MaxAttempts,
			BaseBackoff: Duration(eventlog.DefaultRetryPolicy.BaseBackoff),
			JitterCap:   Duration(eventlog.DefaultRetryPolicy.JitterCap),
		},
	}
}

// validateSchema unifies the YAML document with the embedded CUE schema
// and requires a concrete, valid result.
func validateSchema(raw []byte, filename string) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(configSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, raw)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
