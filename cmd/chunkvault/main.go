// chunkvault - encrypted chunked transfers to object storage
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rescale/chunkvault/internal/cli"
	"github.com/rescale/chunkvault/internal/fips"
	"github.com/rescale/chunkvault/internal/version"
)

// Version information, overridden by -ldflags at release time.
var (
	Version   = "v0.3.0-dev"
	BuildTime = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	if err := fips.Check(os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if err := cli.Execute(); err != nil {
		if errors.Is(err, cli.ErrInterrupted) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
