// SPDX-License-Identifier: AGPL-3.0-only

package adaptivebulkhead

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"
)

// Holder holds the Config currently installed for a bulkhead. Reconfiguring a bulkhead means building a new
// Config and installing it here; installed configs are never modified.
//
// This type is concurrency safe.
type Holder struct {
	logger  log.Logger
	current *atomic.Pointer[Config]
}

// NewHolder returns a Holder with initial installed. It fails if initial is not a valid Config, e.g. the zero value.
func NewHolder(initial Config, logger log.Logger) (*Holder, error) {
	if err := initial.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Holder{
		logger:  logger,
		current: atomic.NewPointer(&initial),
	}, nil
}

// Load returns the installed Config.
func (h *Holder) Load() Config {
	return *h.current.Load()
}

// Install replaces the installed Config with cfg and returns the previous one. An invalid cfg is rejected and the
// installed Config is kept.
func (h *Holder) Install(cfg Config) (Config, error) {
	if err := cfg.validate(); err != nil {
		return h.Load(), err
	}
	previous := *h.current.Swap(&cfg)
	if !previous.Equal(cfg) {
		level.Info(h.logger).Log("msg", "installed adaptive bulkhead config", "previous_hash", formatHash(previous.Hash()), "hash", formatHash(cfg.Hash()))
	}
	return previous, nil
}

func formatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}
