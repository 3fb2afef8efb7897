package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// testModeEnv makes the binaries return before dialing Postgres or Redis.
const testModeEnv = "WASTEFLOW_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether binaries should skip runtime startup. The
// environment is read once and cached.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the environment and returns the new value.
func RefreshTestMode() bool {
	v, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(&v)
	return v
}
