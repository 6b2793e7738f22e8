// Package fips reports and enforces FIPS 140-3 mode for the chunk ciphers.
// AES-256-GCM is an approved algorithm, so the engines need no changes when
// the Go FIPS module is active.
package fips

import (
	"crypto/fips140"
	"errors"
)

// RequireEnv names the variable that makes FIPS mode mandatory.
const RequireEnv = "CHUNKVAULT_REQUIRE_FIPS"

// ErrNotEnabled is returned by Check when FIPS mode is required but off.
var ErrNotEnabled = errors.New("FIPS 140-3 mode is required but not active; rebuild with GOFIPS140=latest or run with GODEBUG=fips140=on")

// Status returns a short label for version output.
func Status() string {
	return status(fips140.Enabled())
}

func status(enabled bool) string {
	if enabled {
		return "[FIPS 140-3]"
	}
	return "[FIPS: disabled]"
}

// Check fails when getenv(RequireEnv) is "true" and FIPS mode is off.
func Check(getenv func(string) string) error {
	return check(fips140.Enabled(), getenv)
}

func check(enabled bool, getenv func(string) string) error {
	if enabled || getenv(RequireEnv) != "true" {
		return nil
	}
	return ErrNotEnabled
}
