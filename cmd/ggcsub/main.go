// Package main is the entry point for the ggcsub application.
package main

import (
	"os"

	"github.com/sang-woon/ggc-subtitle/cmd/ggcsub/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
