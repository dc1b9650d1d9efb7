// Copyright 2018 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asl-project/celeste-splitter/internal/hostabi/hostabitest"
	"github.com/asl-project/celeste-splitter/internal/splits"
)

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <fixture.json>",
		Short: "Replay a recorded sequence of Info snapshots through the split machine",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runReplay(args[0])
		},
	}
}

func runReplay(path string) {
	ticks, err := loadFixture(path)
	if err != nil {
		exitf("%v\n", err)
	}

	host := hostabitest.New()
	machine := splits.New(host)

	for i, t := range ticks {
		before := len(host.Commands())
		machine.Step(t.info())
		issued := host.Commands()[before:]
		fmt.Printf("tick %3d: split=%-12s failed_reads=%-3d commands=%v\n",
			i, machine.CurrentSplit(), machine.FailedReads(), issued)
	}
}
