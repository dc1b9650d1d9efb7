// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package splits

import (
	"strconv"

	"github.com/asl-project/celeste-splitter/internal/celeste"
	"github.com/asl-project/celeste-splitter/internal/hostabi"
)

// maxFailedReads is the number of consecutive absent snapshots the
// machine tolerates, after a successful one, before dropping the adapter
// and retrying attachment.
const maxFailedReads = 100

// tickRateHz is the rate at which the host is asked to invoke Update.
const tickRateHz = 60.0

// resetTriggerFileTimeMs is the file_time threshold, in milliseconds,
// under which a freshly-started chapter 0 run is considered a cold start
// rather than, say, a reset replayed mid-file.
const resetTriggerFileTimeMs = 1000

// deathsVariable is the only host variable this plugin publishes.
const deathsVariable = "Deaths"

// Machine is the plugin's singleton: it owns at most one optional game
// adapter (which owns exactly one process handle) and the previous Info
// snapshot, replaced each tick.
type Machine struct {
	host    hostabi.Host
	adapter *celeste.Adapter

	currentSplit Split
	failedReads  uint32

	prev    *celeste.Info
	printedDisconnect bool
}

// New constructs the splitter singleton and sets the host's tick rate.
// This is the plugin's one-time `configure` hook.
func New(host hostabi.Host) *Machine {
	host.SetTickRate(tickRateHz)
	return &Machine{host: host, currentSplit: Start}
}

// Update is the plugin's per-tick hook. It either (re)attempts attachment
// or takes a snapshot, diffs it against the previous one, and emits timer
// commands — never blocking.
func (m *Machine) Update() {
	if m.adapter == nil {
		a, err := celeste.Attach(m.host)
		if err != nil {
			if !m.printedDisconnect {
				m.host.Print("failed to connect to Celeste")
				m.printedDisconnect = true
			}
			return
		}
		m.adapter = a
		m.printedDisconnect = false
	}

	info, err := m.adapter.Snapshot()
	if err != nil {
		m.onAbsentSnapshot()
		return
	}

	m.failedReads = 0
	m.applyTransitions(m.prev, &info)
	m.prev = &info
}

// Step feeds a pre-computed Info snapshot directly into the machine,
// bypassing adapter attachment and the host read path entirely. current
// nil means "no snapshot this tick". It exists so cmd/splitsim can replay
// recorded fixtures and so this package's tests can exercise the
// transition logic without a live host.
func (m *Machine) Step(current *celeste.Info) {
	if current == nil {
		m.onAbsentSnapshot()
		return
	}
	m.failedReads = 0
	m.applyTransitions(m.prev, current)
	m.prev = current
}

// onAbsentSnapshot implements the reconnection bookkeeping: only a
// previously-successful run of ticks counts toward the threshold, a
// single warning fires on the first failure, and the adapter is dropped
// (forcing reattachment) after 100 consecutive failures.
func (m *Machine) onAbsentSnapshot() {
	if m.prev == nil {
		return
	}
	m.failedReads++
	if m.failedReads == 1 {
		m.host.Print("warning: lost contact with Celeste, retrying reads")
	}
	if m.failedReads >= maxFailedReads {
		m.host.Print("error: too many failed reads, reattaching to Celeste")
		if m.adapter != nil {
			m.adapter.Close()
		}
		m.adapter = nil
		m.prev = nil
		m.failedReads = 0
	}
}

// applyTransitions compares prev (which may be nil, meaning absent) and
// current and issues timer commands.
func (m *Machine) applyTransitions(prev, current *celeste.Info) {
	asi := current.Raw
	chapterStartedNow := boolField(asi.ChapterStarted)
	chapterStartedBefore := prev != nil && boolField(prev.Raw.ChapterStarted)

	if asi.Chapter == 0 && current.Room == "0" &&
		chapterStartedNow && !chapterStartedBefore &&
		asi.FileTime < resetTriggerFileTimeMs {
		m.host.Reset()
		m.host.Start()
		m.currentSplit = Prologue
	}

	if chapterStartedNow {
		if !chapterStartedBefore {
			m.host.Unpause()
		}
		m.host.SetGameTime(float64(asi.FileTime) / 1000.0)
	} else if chapterStartedBefore {
		m.host.Pause()
	}

	if m.shouldSplit(prev, current) {
		m.host.Split()
		m.currentSplit = m.currentSplit.Next()
	}

	if prev != nil && prev.DeathCount != current.DeathCount {
		m.host.SetVariable(deathsVariable, strconv.FormatUint(uint64(current.DeathCount), 10))
	}
}

// shouldSplit evaluates the single split rule that applies to the current
// split. prev may be nil.
func (m *Machine) shouldSplit(prev, current *celeste.Info) bool {
	asi := current.Raw
	switch m.currentSplit {
	case Prologue, City, Site, Resort, Ridge, Reflection, Summit:
		if prev == nil {
			return false
		}
		return boolField(prev.Raw.ChapterComplete) && !boolField(asi.ChapterComplete)
	case Cassette:
		return asi.FileCassettes == 1 && !boolField(asi.ChapterStarted)
	case Temple:
		return asi.FileHearts == 1 && boolField(asi.ChapterComplete)
	case Summit2500M:
		return current.Checkpoint == 6
	case Start, End:
		return false
	default:
		return false
	}
}

func boolField(b byte) bool { return b != 0 }

// CurrentSplit reports the machine's current position, mostly useful for
// tests and cmd/splitsim.
func (m *Machine) CurrentSplit() Split { return m.currentSplit }

// FailedReads reports the current consecutive-failure count, mostly
// useful for tests and cmd/splitsim.
func (m *Machine) FailedReads() uint32 { return m.failedReads }
