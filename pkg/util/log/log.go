// SPDX-License-Identifier: AGPL-3.0-only

package log

import (
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
)

// Logger is a shared go-kit logger, set up by InitLogger. Libraries take their logger as a constructor argument.
var Logger = log.NewNopLogger()

// InitLogger initialises the global logger with the given format and level, writing to w (os.Stderr if nil), and
// returns it.
func InitLogger(format string, lvl dslog.Level, w io.Writer) log.Logger {
	if w == nil {
		w = os.Stderr
	}
	if lvl.Option == nil {
		_ = lvl.Set("info")
	}

	logger := level.NewFilter(dslog.NewGoKitWithWriter(format, log.NewSyncWriter(w)), lvl.Option)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	Logger = logger
	return logger
}
