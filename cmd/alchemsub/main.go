// Command alchemsub decorrelates alchemical free energy simulation data.
// It slices time series per lambda state, subsamples them to their
// statistical inefficiency and detects the equilibrated region.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
