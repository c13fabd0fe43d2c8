// Package guard switches the binaries into test mode when imported, so
// tests that touch main packages never dial Postgres, Redis or MinIO.
package guard

import (
	"os"
	"sync"
)

// Env is the variable app.InTestMode reads.
const Env = "JOBTRACK_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(Env) == "" {
			_ = os.Setenv(Env, "1")
		}
	})
}
