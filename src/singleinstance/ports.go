package singleinstance

import (
	"os"
	"strconv"
)

const (
	defaultPortStart = 49500
	defaultPortEnd   = 49550
)

// getPortRange returns the configured TCP port range. Environment variables:
// SINGLEINSTANCE_PORT_START and SINGLEINSTANCE_PORT_END (integers, inclusive).
func getPortRange() (int, int) {
	return portRange(os.Getenv("SINGLEINSTANCE_PORT_START"), os.Getenv("SINGLEINSTANCE_PORT_END"))
}

// portRange falls back to defaults for invalid values and clamps to [1024, 65535].
func portRange(startEnv, endEnv string) (int, int) {
	start, end := defaultPortStart, defaultPortEnd
	if n, err := strconv.Atoi(startEnv); err == nil {
		start = n
	}
	if n, err := strconv.Atoi(endEnv); err == nil {
		end = n
	}
	if start < 1024 {
		start = 1024
	}
	if end > 65535 {
		end = 65535
	}
	if end < start {
		start, end = end, start
	}
	return start, end
}
