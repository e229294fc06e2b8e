// Package main provides the entry point for the a11ypipe CLI.
package main

import (
	"fmt"
	"os"

	"github.com/avickers/a11ypipe/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
