// Package main is the entry point for the sage CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sage:", err)
		os.Exit(1)
	}
}
