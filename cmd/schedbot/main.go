package main

import (
	"fmt"
	"os"
)

// set via -ldflags "-X main.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
