// Copyright 2018 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/asl-project/celeste-splitter/internal/celeste"
	"github.com/asl-project/celeste-splitter/internal/hostabi/hostabitest"
	"github.com/asl-project/celeste-splitter/internal/splits"
)

// replState is the REPL's working set: the current tick being edited, plus
// the machine it feeds. It starts at the Prologue's cold-start boundary so
// a session can exercise the first split with only a couple of commands.
type replState struct {
	host    *hostabitest.Host
	machine *splits.Machine
	current tick
}

func newReplCmd() *cobra.Command {
	var fixturePath string
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactively step the split machine one tick at a time",
		Run: func(cmd *cobra.Command, args []string) {
			runRepl(fixturePath)
		},
	}
	cmd.Flags().StringVar(&fixturePath, "load", "", "JSON fixture to seed the current tick from (first entry)")
	return cmd
}

func runRepl(fixturePath string) {
	st := &replState{
		host:    hostabitest.New(),
		current: tick{Room: "0"},
	}
	st.machine = splits.New(st.host)

	if fixturePath != "" {
		ticks, err := loadFixture(fixturePath)
		if err != nil {
			exitf("%v\n", err)
		}
		if len(ticks) > 0 {
			st.current = ticks[0]
		}
	}

	rl, err := readline.New("splitsim> ")
	if err != nil {
		exitf("starting repl: %v\n", err)
	}
	defer rl.Close()

	fmt.Println(`splitsim repl: type "help" for a list of commands`)
	for {
		line, err := rl.Readline()
		if err == io.EOF || err == readline.ErrInterrupt {
			return
		}
		if err != nil {
			exitf("%v\n", err)
		}
		if st.dispatch(strings.Fields(line)) {
			return
		}
	}
}

// dispatch runs one command and reports whether the REPL should exit.
func (st *replState) dispatch(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "help":
		st.help()
	case "show":
		st.show()
	case "set":
		st.set(fields[1:])
	case "absent":
		before := len(st.host.Commands())
		st.machine.Step(nil)
		st.report(before)
	case "step":
		before := len(st.host.Commands())
		st.machine.Step(st.current.info())
		st.report(before)
	case "quit", "exit":
		return true
	default:
		fmt.Printf("unrecognized command %q; type \"help\"\n", fields[0])
	}
	return false
}

func (st *replState) help() {
	fmt.Println(`commands:
  show              print the tick currently staged for "step"
  set <field> <v>   set a field on the staged tick (e.g. "set chapter_complete true")
  step              feed the staged tick to the machine and print the result
  absent            feed a nil (absent) snapshot to the machine
  quit              exit`)
}

func (st *replState) show() {
	fmt.Printf("%+v\n", st.current)
	fmt.Printf("current split: %v, failed reads: %d\n", st.machine.CurrentSplit(), st.machine.FailedReads())
}

func (st *replState) set(args []string) {
	if len(args) != 2 {
		fmt.Println(`usage: set <field> <value>`)
		return
	}
	field, value := args[0], args[1]
	var err error
	switch field {
	case "chapter":
		err = setInt32(&st.current.Chapter, value)
	case "mode":
		err = setInt32(&st.current.Mode, value)
	case "chapter_started":
		err = setBool(&st.current.ChapterStarted, value)
	case "chapter_complete":
		err = setBool(&st.current.ChapterComplete, value)
	case "file_time_ms":
		err = setInt64(&st.current.FileTimeMs, value)
	case "death_count":
		err = setUint32(&st.current.DeathCount, value)
	case "checkpoint":
		err = setUint32(&st.current.Checkpoint, value)
	case "room":
		st.current.Room = value
	default:
		fmt.Printf("unknown field %q\n", field)
		return
	}
	if err != nil {
		fmt.Printf("bad value for %s: %v\n", field, err)
	}
}

func (st *replState) report(before int) {
	issued := st.host.Commands()[before:]
	fmt.Printf("split=%v failed_reads=%d commands=%v\n", st.machine.CurrentSplit(), st.machine.FailedReads(), issued)
}

func setInt32(dst *int32, s string) error {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return err
	}
	*dst = int32(v)
	return nil
}

func setInt64(dst *int64, s string) error {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setUint32(dst *uint32, s string) error {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return err
	}
	*dst = uint32(v)
	return nil
}

func setBool(dst *bool, s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
