// Copyright 2018 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command splitsim is a development tool for exploring the split state
// machine's behavior without a live game process or timer host: it
// replays recorded Info snapshots (or the built-in end-to-end scenarios)
// through internal/splits.Machine and prints the timer commands that
// would have been emitted.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "splitsim",
		Short: "Simulate the Celeste split state machine against recorded fixtures",
	}
	root.AddCommand(newReplayCmd())
	root.AddCommand(newScenariosCmd())
	root.AddCommand(newReplCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}
