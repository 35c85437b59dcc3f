// SPDX-License-Identifier: AGPL-3.0-only

package adaptivebulkhead

import (
	"testing"
	"time"

	"github.com/grafana/dskit/flagext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

func loadOverrides(t *testing.T, doc string) *Overrides {
	t.Helper()

	var o Overrides
	flagext.DefaultValues(&o)
	require.NoError(t, yaml.Unmarshal([]byte(doc), &o))
	return &o
}

func TestOverrides_Resolve(t *testing.T) {
	o := loadOverrides(t, `
defaults:
  desirable_average_throughput: 2
bulkheads:
  ingester:
    low_latency_multiplier: 0.5
  store-gateway:
    desirable_operation_latency: 0.5
    max_acceptable_request_latency: 1
    window_for_adaptation: 2m
    window_for_reconfiguration: 1h
  empty: {}
  unset:
`)

	r, err := o.Resolve()
	require.NoError(t, err)

	def, err := NewBuilder().WithDesirableAverageThroughput(2).Build()
	require.NoError(t, err)
	assert.True(t, def.Equal(r.Default()))

	ingester, err := From(def).WithLowLatencyMultiplier(0.5).Build()
	require.NoError(t, err)
	assert.True(t, ingester.Equal(r.For("ingester")))

	storeGateway := r.For("store-gateway")
	assert.Equal(t, 2.0, storeGateway.DesirableAverageThroughput())
	assert.Equal(t, 0.5, storeGateway.DesirableOperationLatency())
	assert.Equal(t, 1.0, storeGateway.MaxAcceptableRequestLatency())
	assert.Equal(t, 2*time.Minute, storeGateway.WindowForAdaptation())
	assert.Equal(t, time.Hour, storeGateway.WindowForReconfiguration())

	assert.True(t, def.Equal(r.For("empty")))
	assert.True(t, def.Equal(r.For("unset")))
	assert.True(t, def.Equal(r.For("unknown")))

	assert.Equal(t, []string{"empty", "ingester", "store-gateway", "unset"}, r.Names())
}

func TestOverrides_ResolveWithoutFile(t *testing.T) {
	var o Overrides
	flagext.DefaultValues(&o)

	r, err := o.Resolve()
	require.NoError(t, err)
	assert.True(t, Defaults().Equal(r.Default()))
	assert.Empty(t, r.Names())
}

func TestOverrides_DefaultsChangedAfterLoad(t *testing.T) {
	o := loadOverrides(t, `
bulkheads:
  ingester:
    low_latency_multiplier: 0.5
`)

	// Same as a CLI flag parsed after the config file.
	o.Defaults.ConcurrencyDropMultiplier = 0.4

	r, err := o.Resolve()
	require.NoError(t, err)

	ingester := r.For("ingester")
	assert.Equal(t, 0.5, ingester.LowLatencyMultiplier())
	assert.Equal(t, 0.4, ingester.ConcurrencyDropMultiplier())
	assert.Equal(t, 0.4, r.Default().ConcurrencyDropMultiplier())
}

func TestOverrides_ResolveErrors(t *testing.T) {
	for name, tc := range map[string]struct {
		doc              string
		expectedErrs     []error
		expectedMessages []string
	}{
		"invalid defaults": {
			doc: `
defaults:
  desirable_average_throughput: 0
`,
			expectedErrs:     []error{ErrNotPositive},
			expectedMessages: []string{"defaults: invalid adaptive bulkhead config: desirable_average_throughput (0) must be a positive value greater than zero"},
		},
		"invalid bulkhead": {
			doc: `
bulkheads:
  ingester:
    window_for_reconfiguration: 10m
`,
			expectedErrs:     []error{ErrReconfigurationWindowTooSmall},
			expectedMessages: []string{`bulkhead "ingester": invalid adaptive bulkhead config: window_for_reconfiguration (10m0s) is too small, it should be more than 15 times bigger than window_for_adaptation`},
		},
		"every invalid bulkhead is reported": {
			doc: `
bulkheads:
  querier:
    desirable_operation_latency: 1
  ingester:
    low_latency_multiplier: -1
  ruler:
    low_latency_multiplier: 0.5
`,
			expectedErrs: []error{ErrLatencyOrdering, ErrNotPositive},
			expectedMessages: []string{
				`bulkhead "ingester": invalid adaptive bulkhead config: low_latency_multiplier (-1) must be a positive value greater than zero`,
				`bulkhead "querier": invalid adaptive bulkhead config: max_acceptable_request_latency (0.13) can't be less than desirable_operation_latency`,
			},
		},
		"unknown field": {
			doc: `
bulkheads:
  ingester:
    max_latency: 1
`,
		},
	} {
		t.Run(name, func(t *testing.T) {
			o := loadOverrides(t, tc.doc)

			r, err := o.Resolve()
			require.Error(t, err)
			assert.Nil(t, r)

			for _, expected := range tc.expectedErrs {
				assert.ErrorIs(t, err, expected)
			}
			if len(tc.expectedMessages) > 0 {
				var messages []string
				for _, e := range multierr.Errors(err) {
					messages = append(messages, e.Error())
				}
				assert.Equal(t, tc.expectedMessages, messages)
			}
		})
	}
}
