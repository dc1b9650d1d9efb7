// Copyright 2018 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asl-project/celeste-splitter/internal/celeste"
	"github.com/asl-project/celeste-splitter/internal/hostabi/hostabitest"
	"github.com/asl-project/celeste-splitter/internal/splits"
)

// scenario is one of the built-in end-to-end scenarios, reachable from the
// split machine's public API alone (no live process, no reflector). The
// save-profile-swap scenario lives in internal/celeste's own tests
// instead, since it exercises Snapshot directly.
type scenario struct {
	name string
	run  func() error
}

func scenarios() []scenario {
	return []scenario{
		{"attach-while-not-running", scenarioNotRunning},
		{"cold-start-and-first-split", scenarioColdStartAndFirstSplit},
		{"death-counter-update", scenarioDeathCounter},
		{"sustained-read-failure", scenarioSustainedFailure},
	}
}

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "Run the built-in end-to-end scenarios and report pass/fail",
		Run: func(cmd *cobra.Command, args []string) {
			failed := 0
			for _, s := range scenarios() {
				if err := s.run(); err != nil {
					fmt.Printf("FAIL %-28s %v\n", s.name, err)
					failed++
					continue
				}
				fmt.Printf("PASS %-28s\n", s.name)
			}
			if failed > 0 {
				exitf("%d scenario(s) failed\n", failed)
			}
		},
	}
}

// scenarioNotRunning: attach returns 0 on every tick, so no timer command
// is ever emitted, and exactly one print fires the first tick the
// connection is observed lost.
func scenarioNotRunning() error {
	host := hostabitest.New() // no process registered: attach always fails
	m := splits.New(host)
	for i := 0; i < 5; i++ {
		m.Update()
	}
	prints := host.Prints()
	if len(prints) != 1 || prints[0] != "failed to connect to Celeste" {
		return fmt.Errorf("want exactly one print \"failed to connect to Celeste\", got %v", prints)
	}
	for _, c := range host.Commands() {
		if c.Op == "set_tick_rate" {
			continue // New() sets the tick rate unconditionally at construction
		}
		return fmt.Errorf("unexpected command issued while disconnected: %+v", c)
	}
	return nil
}

// scenarioColdStartAndFirstSplit: a cold start of Prologue immediately
// followed by its chapter-complete split, played out as a continuous
// sequence of snapshots.
func scenarioColdStartAndFirstSplit() error {
	host := hostabitest.New()
	m := splits.New(host)

	m.Step(info(0, 0, false, false, 0))
	before := len(host.Commands())
	m.Step(info(0, 0, true, false, 42))
	got := opsOf(host.Commands()[before:])
	want := []string{"reset", "start", "unpause", "set_game_time"}
	if !equalStrings(got, want) {
		return fmt.Errorf("cold start: want ops %v, got %v", want, got)
	}
	if m.CurrentSplit() != splits.Prologue {
		return fmt.Errorf("cold start: want current split Prologue, got %v", m.CurrentSplit())
	}

	m.Step(info(0, 0, true, true, 5000)) // completion screen appears
	m.Step(info(0, 0, true, true, 5100)) // still showing
	before = len(host.Commands())
	m.Step(info(0, 0, true, false, 5200)) // completion screen dismissed
	got = opsOf(host.Commands()[before:])
	if !contains(got, "split") {
		return fmt.Errorf("chapter complete: want a split command, got %v", got)
	}
	if m.CurrentSplit() != splits.City {
		return fmt.Errorf("chapter complete: want current split City, got %v", m.CurrentSplit())
	}
	return nil
}

// scenarioDeathCounter checks that a death-count change publishes the
// Deaths variable without triggering a split.
func scenarioDeathCounter() error {
	host := hostabitest.New()
	m := splits.New(host)

	n := info(0, 0, true, false, 1000)
	n.DeathCount = 7
	m.Step(n)

	before := len(host.Commands())
	n2 := info(0, 0, true, false, 1100)
	n2.DeathCount = 8
	m.Step(n2)

	v, ok := host.Variable("Deaths")
	if !ok || v != "8" {
		return fmt.Errorf("want Deaths variable \"8\", got %q (present=%v)", v, ok)
	}
	if contains(opsOf(host.Commands()[before:]), "split") {
		return fmt.Errorf("death counter update must not split")
	}
	return nil
}

// scenarioSustainedFailure drives 100 consecutive absent ticks and checks
// the warning/error prints and the failed-read counter reset.
func scenarioSustainedFailure() error {
	host := hostabitest.New()
	m := splits.New(host)
	m.Step(info(0, 0, true, false, 1000)) // establish a previous snapshot

	for i := 0; i < 99; i++ {
		m.Step(nil)
	}
	if m.FailedReads() != 99 {
		return fmt.Errorf("after 99 absent ticks want failed_reads=99, got %d", m.FailedReads())
	}
	warnings := countPrintsContaining(host, "warning")
	if warnings != 1 {
		return fmt.Errorf("want exactly one warning print, got %d", warnings)
	}

	m.Step(nil) // the 100th consecutive absent tick
	if m.FailedReads() != 0 {
		return fmt.Errorf("after the 100th absent tick want failed_reads reset to 0, got %d", m.FailedReads())
	}
	errs := countPrintsContaining(host, "error")
	if errs != 1 {
		return fmt.Errorf("want exactly one error print, got %d", errs)
	}
	return nil
}

func countPrintsContaining(host *hostabitest.Host, needle string) int {
	n := 0
	for _, p := range host.Prints() {
		if containsStr(p, needle) {
			n++
		}
	}
	return n
}

func containsStr(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func info(chapter, mode int32, started, complete bool, fileTimeMs int64) *celeste.Info {
	return &celeste.Info{
		Raw: celeste.AutoSplitterInfo{
			Chapter:         chapter,
			Mode:            mode,
			ChapterStarted:  boolToByte(started),
			ChapterComplete: boolToByte(complete),
			FileTime:        fileTimeMs,
		},
		Room: "0",
	}
}

func opsOf(cmds []hostabitest.Command) []string {
	ops := make([]string, len(cmds))
	for i, c := range cmds {
		ops[i] = c.Op
	}
	return ops
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
