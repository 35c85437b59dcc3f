// SPDX-License-Identifier: AGPL-3.0-only

package adaptivebulkhead

import (
	"slices"
	"time"

	"go.uber.org/multierr"
)

// Builder stages the fields of a Config. Setters validate their own field and return the Builder so calls can be
// chained; an invalid value leaves the staged field untouched and is recorded. Build fails while a field has a
// recorded error; setting that field again to a valid value clears it. Cross-field checks happen in Build.
//
// A Builder must not be used from multiple goroutines at the same time.
type Builder struct {
	cfg Config

	// At most one error per field, in the order the fields first failed.
	errs []*ValidationError
}

// NewBuilder returns a Builder seeded with the default configuration.
func NewBuilder() *Builder {
	return &Builder{cfg: Defaults()}
}

// From returns a Builder seeded with every field of base, to override a few fields and keep the rest.
func From(base Config) *Builder {
	return &Builder{cfg: base}
}

// WithDesirableAverageThroughput sets the desirable average throughput, in op/s. The closer it is to the real
// value, the faster the bulkhead finds the real concurrency limit.
func (b *Builder) WithDesirableAverageThroughput(throughput float64) *Builder {
	if b.checkPositive(DesirableAverageThroughputField, throughput) {
		b.cfg.desirableAverageThroughput = throughput
	}
	return b
}

// WithDesirableOperationLatency sets the latency, in s/op, the bulkhead keeps measuring the actual average
// latency against.
func (b *Builder) WithDesirableOperationLatency(latency float64) *Builder {
	if b.checkPositive(DesirableOperationLatencyField, latency) {
		b.cfg.desirableOperationLatency = latency
	}
	return b
}

// WithMaxAcceptableRequestLatency sets the latency ceiling, in s/op. The bulkhead does its best to never reach it,
// so 20-30% above the usual average latency is a reasonable choice. Setting the desirable latency does not update
// this value.
func (b *Builder) WithMaxAcceptableRequestLatency(latency float64) *Builder {
	if b.checkPositive(MaxAcceptableRequestLatencyField, latency) {
		b.cfg.maxAcceptableRequestLatency = latency
	}
	return b
}

func (b *Builder) WithLowLatencyMultiplier(multiplier float64) *Builder {
	if b.checkPositive(LowLatencyMultiplierField, multiplier) {
		b.cfg.lowLatencyMultiplier = multiplier
	}
	return b
}

func (b *Builder) WithConcurrencyDropMultiplier(multiplier float64) *Builder {
	if b.checkPositive(ConcurrencyDropMultiplierField, multiplier) {
		b.cfg.concurrencyDropMultiplier = multiplier
	}
	return b
}

// WithWindowForAdaptation sets the adaptation cycle. At the end of each cycle the bulkhead computes the average
// latency over the window and adapts the concurrency level.
func (b *Builder) WithWindowForAdaptation(window time.Duration) *Builder {
	b.cfg.windowForAdaptation = window
	return b
}

// WithWindowForReconfiguration sets the reconfiguration cycle. At the end of each cycle the bulkhead computes the
// standard deviation of the latencies seen by the adaptations, and derives the latency ceiling for the next cycle.
func (b *Builder) WithWindowForReconfiguration(window time.Duration) *Builder {
	b.cfg.windowForReconfiguration = window
	return b
}

// Err returns the errors recorded by setters and not cleared since, or nil.
func (b *Builder) Err() error {
	var errs error
	for _, err := range b.errs {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Build returns the staged Config if no setter error is outstanding and every check passes. The returned Config
// is a copy, so the Builder can keep being used without affecting it.
func (b *Builder) Build() (Config, error) {
	if err := b.Err(); err != nil {
		return Config{}, err
	}
	if err := b.cfg.validate(); err != nil {
		return Config{}, err
	}
	return b.cfg, nil
}

func (b *Builder) checkPositive(field string, v float64) bool {
	i := slices.IndexFunc(b.errs, func(err *ValidationError) bool { return err.Field == field })
	if isPositive(v) {
		if i >= 0 {
			b.errs = slices.Delete(b.errs, i, i+1)
		}
		return true
	}

	err := newValidationError(field, v, ErrNotPositive)
	if i >= 0 {
		b.errs[i] = err
	} else {
		b.errs = append(b.errs, err)
	}
	return false
}
