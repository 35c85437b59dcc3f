// SPDX-License-Identifier: AGPL-3.0-only

package adaptivebulkhead

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/adaptivebulkhead/pkg/util/test"
)

func TestHolder_Install(t *testing.T) {
	buf := &bytes.Buffer{}
	h, err := NewHolder(Defaults(), log.NewLogfmtLogger(buf))
	require.NoError(t, err)
	assert.True(t, Defaults().Equal(h.Load()))

	next, err := NewBuilder().WithConcurrencyDropMultiplier(0.5).Build()
	require.NoError(t, err)

	previous, err := h.Install(next)
	require.NoError(t, err)
	assert.True(t, Defaults().Equal(previous))
	assert.True(t, next.Equal(h.Load()))
	assert.Equal(t,
		fmt.Sprintf("level=info msg=\"installed adaptive bulkhead config\" previous_hash=%016x hash=%016x\n", Defaults().Hash(), next.Hash()),
		buf.String(),
	)

	// Installing an equal config is not logged.
	buf.Reset()
	previous, err = h.Install(next)
	require.NoError(t, err)
	assert.True(t, next.Equal(previous))
	assert.Empty(t, buf.String())
}

func TestHolder_NilLogger(t *testing.T) {
	h, err := NewHolder(Defaults(), nil)
	require.NoError(t, err)

	next, err := NewBuilder().WithLowLatencyMultiplier(0.5).Build()
	require.NoError(t, err)

	_, err = h.Install(next)
	require.NoError(t, err)
	assert.True(t, next.Equal(h.Load()))
}

func TestHolder_RejectsInvalidConfig(t *testing.T) {
	t.Run("initial", func(t *testing.T) {
		h, err := NewHolder(Config{}, nil)
		require.ErrorIs(t, err, ErrNotPositive)
		assert.Nil(t, h)
	})

	t.Run("install", func(t *testing.T) {
		buf := &bytes.Buffer{}
		h, err := NewHolder(Defaults(), log.NewLogfmtLogger(buf))
		require.NoError(t, err)

		current, err := h.Install(Config{})
		require.ErrorIs(t, err, ErrNotPositive)
		assert.True(t, Defaults().Equal(current))
		assert.True(t, Defaults().Equal(h.Load()))
		assert.Empty(t, buf.String())
	})
}

func TestHolder_ConcurrentInstallAndLoad(t *testing.T) {
	test.VerifyNoLeak(t)

	configs := make([]Config, 0, 10)
	for i := 1; i <= 10; i++ {
		cfg, err := NewBuilder().WithDesirableAverageThroughput(float64(i) / 10).Build()
		require.NoError(t, err)
		configs = append(configs, cfg)
	}

	h, err := NewHolder(configs[0], log.NewNopLogger())
	require.NoError(t, err)

	wg := sync.WaitGroup{}
	for _, cfg := range configs {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.Install(cfg)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			// Every loaded config must be one of the installed ones, never a mix of two.
			assert.Contains(t, configs, h.Load())
		}()
	}
	wg.Wait()

	assert.Contains(t, configs, h.Load())
}
