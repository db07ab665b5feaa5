// Package main is the entry point for the leapchat CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/leapchat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
