// Package agentd serves scripted agent streams for development and
// end-to-end testing. A YAML scenario describes the cumulative snapshots
// an agent would emit, and the server plays it back as text/event-stream
// to any client that POSTs a message.
package agentd

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one scripted stream, loaded from YAML.
type Scenario struct {
	// Name labels the scenario in logs.
	Name string `yaml:"name"`
	// ChunkBytes splits the emitted byte stream into chunks of this size,
	// flushing between chunks. Zero emits one chunk per event. Useful for
	// exercising reassembly of events split across reads.
	ChunkBytes int `yaml:"chunk_bytes"`
	// SendDone controls the trailing [DONE] sentinel. Defaults to true.
	SendDone *bool `yaml:"send_done"`
	// Steps play back in order.
	Steps []Step `yaml:"steps"`
}

// Step is one emission in the scenario. A step is either a keep-alive
// comment or a data event carrying the cumulative snapshot so far.
type Step struct {
	// Delay waits before emitting this step.
	Delay Duration `yaml:"delay"`
	// KeepAlive emits a comment line instead of a data event.
	KeepAlive bool `yaml:"keep_alive"`
	// Text is the cumulative text snapshot.
	Text string `yaml:"text"`
	// Done marks the event as terminal.
	Done bool `yaml:"done"`
	// Artifacts attached to this snapshot.
	Artifacts []Artifact `yaml:"artifacts"`
	// Raw, when set, is emitted verbatim as the event data instead of a
	// JSON payload. Lets scenarios script malformed events.
	Raw string `yaml:"raw"`
}

// Artifact is an artifact reference within a step.
type Artifact struct {
	Name        string `yaml:"name"`
	ContentType string `yaml:"content_type"`
	// Data holds base64 bytes for inline artifacts.
	Data string `yaml:"data"`
	// URL points at a fetchable location for deferred artifacts.
	URL string `yaml:"url"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "50ms", "2s").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "50ms" or "1m30s".
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

// LoadScenario reads and validates a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("scenario file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read scenario file %q: %w", path, err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &sc, nil
}

// Validate checks scenario consistency.
func (s *Scenario) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario has no steps")
	}
	if s.ChunkBytes < 0 {
		return fmt.Errorf("chunk_bytes must not be negative")
	}
	for i, step := range s.Steps {
		if step.KeepAlive && (step.Text != "" || step.Done || step.Raw != "" || len(step.Artifacts) > 0) {
			return fmt.Errorf("step %d: keep_alive steps must carry no payload", i+1)
		}
		if step.Raw != "" && (step.Text != "" || len(step.Artifacts) > 0) {
			return fmt.Errorf("step %d: raw and payload fields are mutually exclusive", i+1)
		}
	}
	return nil
}

// sendDone reports whether the scenario ends with the [DONE] sentinel.
func (s *Scenario) sendDone() bool {
	return s.SendDone == nil || *s.SendDone
}
