// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Barrierdump replays traces of GPU commands and prints the
// barriers computed for them.
package main

import (
	"os"

	"github.com/gviegas/barrier/cmd/barrierdump/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
