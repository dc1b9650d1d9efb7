// Copyright 2018 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/asl-project/celeste-splitter/internal/celeste"
)

// tick is a JSON-friendly stand-in for one celeste.Info snapshot (or its
// absence), used to drive the split machine without a live game process or
// host. It mirrors celeste.AutoSplitterInfo field-for-field except Level
// (the room name is given directly as Room), using bool instead of byte
// and milliseconds-named fields for readability in fixture files.
type tick struct {
	Absent bool `json:"absent,omitempty"`

	Chapter             int32  `json:"chapter"`
	Mode                int32  `json:"mode"`
	TimerActive         bool   `json:"timer_active"`
	ChapterStarted      bool   `json:"chapter_started"`
	ChapterComplete     bool   `json:"chapter_complete"`
	ChapterTimeMs       int64  `json:"chapter_time_ms"`
	ChapterStrawberries int32  `json:"chapter_strawberries"`
	ChapterCassette     bool   `json:"chapter_cassette"`
	ChapterHeart        bool   `json:"chapter_heart"`
	FileTimeMs          int64  `json:"file_time_ms"`
	FileStrawberries    int32  `json:"file_strawberries"`
	FileCassettes       int32  `json:"file_cassettes"`
	FileHearts          int32  `json:"file_hearts"`

	DeathCount uint32 `json:"death_count"`
	Checkpoint uint32 `json:"checkpoint"`
	InCutscene bool   `json:"in_cutscene"`
	Room       string `json:"room"`
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// info converts a tick into a *celeste.Info, or nil if the tick represents
// an absent snapshot.
func (t tick) info() *celeste.Info {
	if t.Absent {
		return nil
	}
	return &celeste.Info{
		Raw: celeste.AutoSplitterInfo{
			Chapter:             t.Chapter,
			Mode:                t.Mode,
			TimerActive:         boolToByte(t.TimerActive),
			ChapterStarted:      boolToByte(t.ChapterStarted),
			ChapterComplete:     boolToByte(t.ChapterComplete),
			ChapterTime:         t.ChapterTimeMs,
			ChapterStrawberries: t.ChapterStrawberries,
			ChapterCassette:     boolToByte(t.ChapterCassette),
			ChapterHeart:        boolToByte(t.ChapterHeart),
			FileTime:            t.FileTimeMs,
			FileStrawberries:    t.FileStrawberries,
			FileCassettes:       t.FileCassettes,
			FileHearts:          t.FileHearts,
		},
		DeathCount: t.DeathCount,
		Checkpoint: t.Checkpoint,
		InCutscene: t.InCutscene,
		Room:       t.Room,
	}
}

// loadFixture reads a JSON array of ticks from path.
func loadFixture(path string) ([]tick, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var ticks []tick
	if err := json.Unmarshal(data, &ticks); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return ticks, nil
}
