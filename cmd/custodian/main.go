// Package main provides the entry point for the custodian CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/custodian/cmd/custodian/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
