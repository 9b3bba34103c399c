package app

import (
	"os"
	"sync/atomic"
)

// TestModeEnv set to "1" makes main return before opening listeners.
const TestModeEnv = "CONSOLE_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether the application should skip runtime side effects.
// The environment is read once; RefreshTestMode re-reads it.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode updates the cached flag after environment changes.
func RefreshTestMode() bool {
	on := os.Getenv(TestModeEnv) == "1"
	testMode.Store(&on)
	return on
}
