// SPDX-License-Identifier: AGPL-3.0-only

package test

import (
	"testing"

	"go.uber.org/goleak"
)

// VerifyNoLeak fails the test if goroutines started during the test are still running once it, and its other
// cleanup functions, completed.
func VerifyNoLeak(t testing.TB, opts ...goleak.Option) {
	opts = append(opts, goleak.IgnoreCurrent())

	// Run it as a cleanup function so that "last added, first called" ordering execution is guaranteed.
	t.Cleanup(func() {
		goleak.VerifyNone(t, opts...)
	})
}
