package main

import (
	"testing"

	_ "github.com/odyssey-erp/jobtrack/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	main()
}
