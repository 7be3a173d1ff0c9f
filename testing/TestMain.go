// Package testing flips the service into test mode when imported from a
// test binary, so main functions skip runtime startup.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ACCESSD_TEST_MODE", "1")
	})
}

func init() {
	ensureTestMode()
}

// TestMain keeps test binaries that import this package in test mode.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
