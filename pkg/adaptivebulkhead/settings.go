// SPDX-License-Identifier: AGPL-3.0-only

package adaptivebulkhead

import (
	"bytes"
	"encoding/json"
	"flag"
	"time"

	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"
)

const defaultFlagPrefix = "adaptive-bulkhead."

// Settings is the YAML, JSON and CLI flags representation of a Config. Unlike Config it can hold invalid values;
// use Config or Validate to go through the Builder.
type Settings struct {
	DesirableAverageThroughput  float64        `yaml:"desirable_average_throughput" json:"desirable_average_throughput"`
	DesirableOperationLatency   float64        `yaml:"desirable_operation_latency" json:"desirable_operation_latency"`
	MaxAcceptableRequestLatency float64        `yaml:"max_acceptable_request_latency" json:"max_acceptable_request_latency"`
	WindowForAdaptation         model.Duration `yaml:"window_for_adaptation" json:"window_for_adaptation"`
	WindowForReconfiguration    model.Duration `yaml:"window_for_reconfiguration" json:"window_for_reconfiguration"`
	LowLatencyMultiplier        float64        `yaml:"low_latency_multiplier" json:"low_latency_multiplier"`
	ConcurrencyDropMultiplier   float64        `yaml:"concurrency_drop_multiplier" json:"concurrency_drop_multiplier"`
}

// SettingsFromConfig returns the Settings holding the same values as cfg.
func SettingsFromConfig(cfg Config) Settings {
	return Settings{
		DesirableAverageThroughput:  cfg.desirableAverageThroughput,
		DesirableOperationLatency:   cfg.desirableOperationLatency,
		MaxAcceptableRequestLatency: cfg.maxAcceptableRequestLatency,
		WindowForAdaptation:         model.Duration(cfg.windowForAdaptation),
		WindowForReconfiguration:    model.Duration(cfg.windowForReconfiguration),
		LowLatencyMultiplier:        cfg.lowLatencyMultiplier,
		ConcurrencyDropMultiplier:   cfg.concurrencyDropMultiplier,
	}
}

func (s *Settings) RegisterFlags(f *flag.FlagSet) {
	s.RegisterFlagsWithPrefix(defaultFlagPrefix, f)
}

func (s *Settings) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	defaults := Defaults()

	f.Float64Var(&s.DesirableAverageThroughput, prefix+"desirable-average-throughput", defaults.DesirableAverageThroughput(), "Desirable average throughput in operations per second, used to compute the initial concurrency limit.")
	f.Float64Var(&s.DesirableOperationLatency, prefix+"desirable-operation-latency", defaults.DesirableOperationLatency(), "Desirable operation latency in seconds per operation. The bulkhead keeps comparing the actual average latency with this value.")
	f.Float64Var(&s.MaxAcceptableRequestLatency, prefix+"max-acceptable-request-latency", defaults.MaxAcceptableRequestLatency(), "Maximum acceptable operation latency in seconds per operation. Must not be lower than the desirable operation latency.")
	s.WindowForAdaptation = model.Duration(defaults.WindowForAdaptation())
	f.Var(&s.WindowForAdaptation, prefix+"window-for-adaptation", "How often the average latency is computed and the concurrency limit adapted. Must be long enough to hold 15 measurements at the desirable throughput.")
	s.WindowForReconfiguration = model.Duration(defaults.WindowForReconfiguration())
	f.Var(&s.WindowForReconfiguration, prefix+"window-for-reconfiguration", "How often the latency standard deviation is computed and the maximum acceptable latency re-derived. Must be more than 15 times the adaptation window.")
	f.Float64Var(&s.LowLatencyMultiplier, prefix+"low-latency-multiplier", defaults.LowLatencyMultiplier(), "Multiplier applied when the observed latency is below the desirable latency.")
	f.Float64Var(&s.ConcurrencyDropMultiplier, prefix+"concurrency-drop-multiplier", defaults.ConcurrencyDropMultiplier(), "Multiplier applied to the concurrency limit when the latency ceiling is approached or exceeded.")
}

// ApplyTo calls every setter of b with the values of s.
func (s Settings) ApplyTo(b *Builder) *Builder {
	return b.
		WithDesirableAverageThroughput(s.DesirableAverageThroughput).
		WithDesirableOperationLatency(s.DesirableOperationLatency).
		WithMaxAcceptableRequestLatency(s.MaxAcceptableRequestLatency).
		WithWindowForAdaptation(time.Duration(s.WindowForAdaptation)).
		WithWindowForReconfiguration(time.Duration(s.WindowForReconfiguration)).
		WithLowLatencyMultiplier(s.LowLatencyMultiplier).
		WithConcurrencyDropMultiplier(s.ConcurrencyDropMultiplier)
}

// Config builds the Config described by s.
func (s Settings) Config() (Config, error) {
	return s.ApplyTo(NewBuilder()).Build()
}

func (s Settings) Validate() error {
	_, err := s.Config()
	return err
}

// MarshalYAML implements yaml.Marshaler.
func (c Config) MarshalYAML() (interface{}, error) {
	return SettingsFromConfig(c), nil
}

// UnmarshalYAML implements yaml.Unmarshaler. Fields missing from the document keep their default value, unknown
// fields are rejected, and the result must pass the same validation as Build.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	s := SettingsFromConfig(Defaults())
	if err := decodeStrict(value, &s); err != nil {
		return err
	}
	return c.setFromSettings(s)
}

// MarshalJSON implements json.Marshaler.
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(SettingsFromConfig(c))
}

// UnmarshalJSON implements json.Unmarshaler, with the same semantics as UnmarshalYAML. A JSON null leaves c
// unchanged.
func (c *Config) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	s := SettingsFromConfig(Defaults())
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return err
	}
	return c.setFromSettings(s)
}

func (c *Config) setFromSettings(s Settings) error {
	cfg, err := s.Config()
	if err != nil {
		return err
	}
	*c = cfg
	return nil
}
