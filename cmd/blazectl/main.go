// Package main is the entry point for the blazereport admin CLI.
package main

import (
	"os"

	"github.com/good-yellow-bee/blazereport/cmd/blazectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
