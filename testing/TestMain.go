// Package testing switches the binaries into test mode when imported by a
// test package, so tests never dial Postgres or Redis from main.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("WASTEFLOW_TEST_MODE", "1")
		if os.Getenv("COMPLIANCE_TIMEZONE") == "" {
			_ = os.Setenv("COMPLIANCE_TIMEZONE", "Europe/Amsterdam")
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain can be delegated to from packages that define no TestMain of their own.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
