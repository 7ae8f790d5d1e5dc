package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

// InTestMode reports whether the binaries should exit before touching Postgres or
// Redis. Read once per process.
var InTestMode = sync.OnceValue(func() bool {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	return err == nil && on
})
