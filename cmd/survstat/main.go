// Command survstat runs survival analyses of the colon cancer trial data:
// Kaplan-Meier curves, log-rank tests, Cox and AFT regressions,
// proportional hazards diagnostics and competing risks.
package main

import (
	"fmt"
	"os"

	"github.com/kshedden/survstat/config"
)

func main() {

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
