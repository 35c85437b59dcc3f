// SPDX-License-Identifier: AGPL-3.0-only

// Package adaptivebulkhead defines the validated parameters an adaptive bulkhead runs with. An adaptive bulkhead
// limits concurrent operations based on observed latency instead of a fixed limit; the control loop itself lives
// elsewhere and may assume that every Config it receives is valid.
package adaptivebulkhead

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	DesirableAverageThroughputField  = "desirable_average_throughput"
	DesirableOperationLatencyField   = "desirable_operation_latency"
	MaxAcceptableRequestLatencyField = "max_acceptable_request_latency"
	WindowForAdaptationField         = "window_for_adaptation"
	WindowForReconfigurationField    = "window_for_reconfiguration"
	LowLatencyMultiplierField        = "low_latency_multiplier"
	ConcurrencyDropMultiplierField   = "concurrency_drop_multiplier"
)

const (
	defaultDesirableAverageThroughput = 3.0 // op/s
	defaultDesirableOperationLatency  = 0.1 // s/op

	// defaultMaxAcceptableLatencyFactor is applied to the default desirable latency to derive the default ceiling.
	// It is not reapplied when the desirable latency is overridden.
	defaultMaxAcceptableLatencyFactor = 1.3

	defaultMaxAcceptableRequestLatency = defaultDesirableOperationLatency * defaultMaxAcceptableLatencyFactor
	defaultWindowForAdaptation         = 50 * time.Second
	defaultWindowForReconfiguration    = 900 * time.Second
	defaultLowLatencyMultiplier        = 0.8
	defaultConcurrencyDropMultiplier   = 0.85

	// minMeasurementsPerWindow is the number of measurements the adaptation window must be able to hold, and the
	// number of adaptation windows a reconfiguration window must exceed.
	minMeasurementsPerWindow = 15
)

// Config holds the parameters of an adaptive bulkhead. It can only be obtained from a Builder (or decoded, which
// goes through a Builder), is never mutated afterwards and is safe to share between goroutines.
//
// The zero value is not a valid Config.
type Config struct {
	desirableAverageThroughput  float64 // op/s
	desirableOperationLatency   float64 // s/op
	maxAcceptableRequestLatency float64 // s/op
	windowForAdaptation         time.Duration
	windowForReconfiguration    time.Duration
	lowLatencyMultiplier        float64
	concurrencyDropMultiplier   float64
}

// Defaults returns a fresh copy of the default configuration.
func Defaults() Config {
	return Config{
		desirableAverageThroughput:  defaultDesirableAverageThroughput,
		desirableOperationLatency:   defaultDesirableOperationLatency,
		maxAcceptableRequestLatency: defaultMaxAcceptableRequestLatency,
		windowForAdaptation:         defaultWindowForAdaptation,
		windowForReconfiguration:    defaultWindowForReconfiguration,
		lowLatencyMultiplier:        defaultLowLatencyMultiplier,
		concurrencyDropMultiplier:   defaultConcurrencyDropMultiplier,
	}
}

// DesirableAverageThroughput is the expected steady-state throughput in operations per second, used to seed the
// initial limiter state.
func (c Config) DesirableAverageThroughput() float64 { return c.desirableAverageThroughput }

// DesirableOperationLatency is the latency, in seconds per operation, the limiter steers toward.
func (c Config) DesirableOperationLatency() float64 { return c.desirableOperationLatency }

// MaxAcceptableRequestLatency is the latency ceiling in seconds per operation.
func (c Config) MaxAcceptableRequestLatency() float64 { return c.maxAcceptableRequestLatency }

// WindowForAdaptation is how often the average latency is recomputed and the concurrency adjusted.
func (c Config) WindowForAdaptation() time.Duration { return c.windowForAdaptation }

// WindowForReconfiguration is how often the latency variance is recomputed and the latency ceiling re-derived.
func (c Config) WindowForReconfiguration() time.Duration { return c.windowForReconfiguration }

func (c Config) LowLatencyMultiplier() float64 { return c.lowLatencyMultiplier }

func (c Config) ConcurrencyDropMultiplier() float64 { return c.concurrencyDropMultiplier }

// AdaptationsPerReconfiguration returns how many whole adaptation windows fit in a reconfiguration window.
func (c Config) AdaptationsPerReconfiguration() int64 {
	if c.windowForAdaptation <= 0 {
		return 0
	}
	return int64(c.windowForReconfiguration / c.windowForAdaptation)
}

// Equal reports whether every field of c and o is exactly equal.
func (c Config) Equal(o Config) bool {
	return c.desirableAverageThroughput == o.desirableAverageThroughput &&
		c.desirableOperationLatency == o.desirableOperationLatency &&
		c.maxAcceptableRequestLatency == o.maxAcceptableRequestLatency &&
		c.windowForAdaptation == o.windowForAdaptation &&
		c.windowForReconfiguration == o.windowForReconfiguration &&
		c.lowLatencyMultiplier == o.lowLatencyMultiplier &&
		c.concurrencyDropMultiplier == o.concurrencyDropMultiplier
}

// Hash returns a hash of all fields. Equal configs have equal hashes.
func (c Config) Hash() uint64 {
	var buf [7 * 8]byte
	binary.LittleEndian.PutUint64(buf[0:], math.Float64bits(c.desirableAverageThroughput))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(c.desirableOperationLatency))
	binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(c.maxAcceptableRequestLatency))
	binary.LittleEndian.PutUint64(buf[24:], uint64(c.windowForAdaptation))
	binary.LittleEndian.PutUint64(buf[32:], uint64(c.windowForReconfiguration))
	binary.LittleEndian.PutUint64(buf[40:], math.Float64bits(c.lowLatencyMultiplier))
	binary.LittleEndian.PutUint64(buf[48:], math.Float64bits(c.concurrencyDropMultiplier))
	return xxhash.Sum64(buf[:])
}

func (c Config) String() string {
	var sb strings.Builder
	sb.WriteString("AdaptiveBulkheadConfig{")
	writeField := func(name, value string, first bool) {
		if !first {
			sb.WriteString(", ")
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(value)
	}
	writeField(DesirableAverageThroughputField, formatFloat(c.desirableAverageThroughput), true)
	writeField(DesirableOperationLatencyField, formatFloat(c.desirableOperationLatency), false)
	writeField(MaxAcceptableRequestLatencyField, formatFloat(c.maxAcceptableRequestLatency), false)
	writeField(WindowForAdaptationField, c.windowForAdaptation.String(), false)
	writeField(WindowForReconfigurationField, c.windowForReconfiguration.String(), false)
	writeField(LowLatencyMultiplierField, formatFloat(c.lowLatencyMultiplier), false)
	writeField(ConcurrencyDropMultiplierField, formatFloat(c.concurrencyDropMultiplier), false)
	sb.WriteByte('}')
	return sb.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// validate checks that every real-valued field is positive, then the cross-field invariants. The order of the checks
// is part of the contract: the first failing check is the one reported.
func (c Config) validate() error {
	// A base Config passed to From, or the zero value, hasn't been through the setters.
	for _, f := range []struct {
		name  string
		value float64
	}{
		{DesirableAverageThroughputField, c.desirableAverageThroughput},
		{DesirableOperationLatencyField, c.desirableOperationLatency},
		{MaxAcceptableRequestLatencyField, c.maxAcceptableRequestLatency},
		{LowLatencyMultiplierField, c.lowLatencyMultiplier},
		{ConcurrencyDropMultiplierField, c.concurrencyDropMultiplier},
	} {
		if !isPositive(f.value) {
			return newValidationError(f.name, f.value, ErrNotPositive)
		}
	}

	if c.maxAcceptableRequestLatency < c.desirableOperationLatency {
		return newValidationError(MaxAcceptableRequestLatencyField, c.maxAcceptableRequestLatency, ErrLatencyOrdering)
	}

	// This compares a duration with a rate scaled to nanoseconds, so a higher throughput requires a longer window.
	minWindow := math.Floor(c.desirableAverageThroughput * minMeasurementsPerWindow * float64(time.Second))
	if float64(c.windowForAdaptation.Nanoseconds()) <= minWindow {
		return newValidationError(WindowForAdaptationField, c.windowForAdaptation, ErrAdaptationWindowTooSmall)
	}

	if c.windowForReconfiguration.Nanoseconds()/c.windowForAdaptation.Nanoseconds() <= minMeasurementsPerWindow {
		return newValidationError(WindowForReconfigurationField, c.windowForReconfiguration, ErrReconfigurationWindowTooSmall)
	}

	return nil
}

// isPositive reports whether v is a finite number greater than zero.
func isPositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
