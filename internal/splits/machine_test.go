// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package splits

import (
	"testing"

	"github.com/asl-project/celeste-splitter/internal/celeste"
	"github.com/asl-project/celeste-splitter/internal/hostabi/hostabitest"
)

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func info(chapter int32, started, complete bool, fileTimeMs int64) *celeste.Info {
	return &celeste.Info{
		Raw: celeste.AutoSplitterInfo{
			Chapter:         chapter,
			ChapterStarted:  boolToByte(started),
			ChapterComplete: boolToByte(complete),
			FileTime:        fileTimeMs,
		},
		Room: "0",
	}
}

func TestNewSetsTickRate(t *testing.T) {
	host := hostabitest.New()
	New(host)
	cmds := host.Commands()
	if len(cmds) != 1 || cmds[0].Op != "set_tick_rate" {
		t.Fatalf("New() commands = %v, want exactly one set_tick_rate", cmds)
	}
}

func TestColdStartTriggersResetStartAndUnpause(t *testing.T) {
	host := hostabitest.New()
	m := New(host)
	m.Step(info(0, false, false, 0))

	before := len(host.Commands())
	m.Step(info(0, true, false, 500))
	ops := opNames(host.Commands()[before:])

	want := []string{"reset", "start", "unpause", "set_game_time"}
	if !sliceEq(ops, want) {
		t.Fatalf("cold start ops = %v, want %v", ops, want)
	}
	if m.CurrentSplit() != Prologue {
		t.Errorf("current split = %v, want Prologue", m.CurrentSplit())
	}
}

func TestColdStartRequiresLowFileTime(t *testing.T) {
	host := hostabitest.New()
	m := New(host)
	m.Step(info(0, false, false, 0))

	before := len(host.Commands())
	m.Step(info(0, true, false, 5000)) // file_time already past the threshold
	ops := opNames(host.Commands()[before:])
	if contains(ops, "reset") {
		t.Errorf("cold start should not trigger with file_time >= threshold, got ops %v", ops)
	}
	if m.CurrentSplit() != Start {
		t.Errorf("current split = %v, want Start (no cold start observed)", m.CurrentSplit())
	}
}

func TestPauseUnpauseFollowsChapterStarted(t *testing.T) {
	host := hostabitest.New()
	m := New(host)
	m.Step(info(0, false, false, 0))
	m.Step(info(0, true, false, 100)) // cold start; unpause + set_game_time

	before := len(host.Commands())
	// file_time is past the cold-start threshold from here on, so the
	// unpause below is not mistaken for a new run.
	m.Step(info(0, false, false, 1100)) // player pauses
	ops := opNames(host.Commands()[before:])
	if !sliceEq(ops, []string{"pause"}) {
		t.Fatalf("pause transition ops = %v, want [pause]", ops)
	}

	before = len(host.Commands())
	m.Step(info(0, true, false, 1200)) // player unpauses
	ops = opNames(host.Commands()[before:])
	if !sliceEq(ops, []string{"unpause", "set_game_time"}) {
		t.Fatalf("unpause transition ops = %v, want [unpause set_game_time]", ops)
	}
}

func TestChapterCompleteSplitsAndAdvances(t *testing.T) {
	host := hostabitest.New()
	m := New(host)
	m.Step(info(0, false, false, 0))
	m.Step(info(0, true, false, 100)) // cold start -> Prologue

	m.Step(info(0, true, true, 5000)) // completion screen shown
	before := len(host.Commands())
	m.Step(info(0, true, false, 5100)) // completion screen dismissed
	ops := opNames(host.Commands()[before:])
	if !contains(ops, "split") {
		t.Fatalf("expected a split on chapter_complete true->false, got ops %v", ops)
	}
	if m.CurrentSplit() != City {
		t.Errorf("current split after Prologue completes = %v, want City", m.CurrentSplit())
	}
}

func TestChapterCompleteDoesNotSplitOnRisingEdge(t *testing.T) {
	host := hostabitest.New()
	m := New(host)
	m.Step(info(0, false, false, 0))
	m.Step(info(0, true, false, 100)) // -> Prologue

	before := len(host.Commands())
	m.Step(info(0, true, true, 5000)) // false -> true: no split yet
	ops := opNames(host.Commands()[before:])
	if contains(ops, "split") {
		t.Errorf("chapter_complete false->true must not split by itself, got ops %v", ops)
	}
}

func TestCassetteSplitRule(t *testing.T) {
	host := hostabitest.New()
	m := New(host)
	m.currentSplit = Cassette

	first := &celeste.Info{Raw: celeste.AutoSplitterInfo{Chapter: 1, ChapterStarted: 1, FileCassettes: 0}, Room: "0"}
	m.Step(first)
	before := len(host.Commands())
	second := &celeste.Info{Raw: celeste.AutoSplitterInfo{Chapter: 1, ChapterStarted: 0, FileCassettes: 1}, Room: "0"}
	m.Step(second)
	if !contains(opNames(host.Commands()[before:]), "split") {
		t.Fatalf("Cassette split rule did not fire")
	}
	if m.CurrentSplit() != Temple {
		t.Errorf("current split after Cassette = %v, want Temple", m.CurrentSplit())
	}
}

func TestTempleSplitRule(t *testing.T) {
	host := hostabitest.New()
	m := New(host)
	m.currentSplit = Temple

	m.Step(&celeste.Info{Raw: celeste.AutoSplitterInfo{Chapter: 1, FileHearts: 0}, Room: "0"})
	before := len(host.Commands())
	m.Step(&celeste.Info{Raw: celeste.AutoSplitterInfo{Chapter: 1, FileHearts: 1, ChapterComplete: 1}, Room: "0"})
	if !contains(opNames(host.Commands()[before:]), "split") {
		t.Fatalf("Temple split rule did not fire")
	}
}

func TestSummit2500MSplitRule(t *testing.T) {
	host := hostabitest.New()
	m := New(host)
	m.currentSplit = Summit2500M

	m.Step(&celeste.Info{Checkpoint: 5, Room: "0"})
	before := len(host.Commands())
	m.Step(&celeste.Info{Checkpoint: 6, Room: "0"})
	if !contains(opNames(host.Commands()[before:]), "split") {
		t.Fatalf("Summit2500M split rule did not fire at checkpoint 6")
	}
	if m.CurrentSplit() != Summit {
		t.Errorf("current split = %v, want Summit", m.CurrentSplit())
	}
}

func TestDeathCounterPublishesOnChange(t *testing.T) {
	host := hostabitest.New()
	m := New(host)
	n1 := &celeste.Info{DeathCount: 2, Room: "0"}
	m.Step(n1)

	before := len(host.Commands())
	n2 := &celeste.Info{DeathCount: 3, Room: "0"}
	m.Step(n2)
	v, ok := host.Variable("Deaths")
	if !ok || v != "3" {
		t.Fatalf("Deaths variable = (%q, %v), want (\"3\", true)", v, ok)
	}
	if !contains(opNames(host.Commands()[before:]), "set_variable:Deaths") {
		t.Errorf("expected a set_variable:Deaths command")
	}
}

func TestDeathCounterSilentWhenUnchanged(t *testing.T) {
	host := hostabitest.New()
	m := New(host)
	m.Step(&celeste.Info{DeathCount: 2, Room: "0"})

	before := len(host.Commands())
	m.Step(&celeste.Info{DeathCount: 2, Room: "0"})
	if contains(opNames(host.Commands()[before:]), "set_variable:Deaths") {
		t.Errorf("Deaths should not be republished when unchanged")
	}
}

func TestSustainedFailureDropsAdapterAfterThreshold(t *testing.T) {
	host := hostabitest.New()
	m := New(host)
	m.Step(&celeste.Info{Room: "0"})

	for i := 0; i < maxFailedReads-1; i++ {
		m.Step(nil)
	}
	if m.FailedReads() != maxFailedReads-1 {
		t.Fatalf("FailedReads = %d, want %d", m.FailedReads(), maxFailedReads-1)
	}
	if n := countPrints(host, "warning"); n != 1 {
		t.Errorf("warning print count = %d, want 1", n)
	}

	m.Step(nil)
	if m.FailedReads() != 0 {
		t.Errorf("FailedReads after threshold = %d, want reset to 0", m.FailedReads())
	}
	if n := countPrints(host, "error"); n != 1 {
		t.Errorf("error print count = %d, want 1", n)
	}
}

func TestAbsentBeforeAnySuccessIsANoop(t *testing.T) {
	host := hostabitest.New()
	m := New(host)
	before := len(host.Commands())
	m.Step(nil)
	if len(host.Commands()) != before {
		t.Errorf("Step(nil) with no prior snapshot should not issue commands")
	}
	if m.FailedReads() != 0 {
		t.Errorf("FailedReads = %d, want 0 when there was never a previous snapshot", m.FailedReads())
	}
}

func opNames(cmds []hostabitest.Command) []string {
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Op
	}
	return names
}

func sliceEq(a, b []string) bool {
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

func countPrints(host *hostabitest.Host, substr string) int {
	n := 0
	for _, p := range host.Prints() {
		if len(p) >= len(substr) {
			for i := 0; i+len(substr) <= len(p); i++ {
				if p[i:i+len(substr)] == substr {
					n++
					break
				}
			}
		}
	}
	return n
}
