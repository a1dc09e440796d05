package config

import (
	"fmt"
	"time"
)

// Config represents a sluice.yaml configuration file.
// All values are optional and act as defaults for sluice chat/replay flags.
// CLI flags always override config values.
type Config struct {
	Endpoint  string            `yaml:"endpoint"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Session   SessionConfig     `yaml:"session"`
	Artifacts ArtifactsConfig   `yaml:"artifacts"`
	Capture   CaptureConfig     `yaml:"capture"`
	Ledger    LedgerConfig      `yaml:"ledger"`
	Adapter   AdapterConfig     `yaml:"adapter"`
	Log       LogConfig         `yaml:"log"`
}

// SessionConfig holds stream session defaults from the config file.
type SessionConfig struct {
	// MinUpdateInterval throttles visible updates ("33ms", "0" for the
	// built-in default).
	MinUpdateInterval Duration `yaml:"min_update_interval"`
	// MaxEventSize caps a single framed event in bytes.
	MaxEventSize int `yaml:"max_event_size"`
	// HeaderTimeout bounds the wait for upstream response headers.
	HeaderTimeout Duration `yaml:"header_timeout"`
}

// ArtifactsConfig holds artifact resolution defaults from the config file.
type ArtifactsConfig struct {
	ScanText     bool     `yaml:"scan_text"`
	Parallel     int      `yaml:"parallel"`
	FetchTimeout Duration `yaml:"fetch_timeout"`
	Retries      *int     `yaml:"retries,omitempty"`
	// Backend selects where resolved bytes land: dir or s3.
	Backend string   `yaml:"backend"`
	Dir     string   `yaml:"dir"`
	S3      S3Config `yaml:"s3"`
}

// CaptureConfig holds capture defaults from the config file.
type CaptureConfig struct {
	// Dir enables recording: each session writes <dir>/<session-id>.slc.
	Dir string `yaml:"dir"`
}

// LedgerConfig holds session ledger defaults from the config file.
type LedgerConfig struct {
	// Backend selects the ledger store: fs or s3. Empty disables the ledger.
	Backend string   `yaml:"backend"`
	Path    string   `yaml:"path"`
	S3      S3Config `yaml:"s3"`
}

// S3Config holds S3 settings shared by the ledger and artifact backends.
type S3Config struct {
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds completion adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// LogConfig holds logging defaults from the config file.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
