// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package celeste

import (
	"errors"
	"fmt"

	"github.com/asl-project/celeste-splitter/internal/arch"
	"github.com/asl-project/celeste-splitter/internal/mono"
	"github.com/asl-project/celeste-splitter/internal/procio"
)

// AutoSplitterInfo is the C-layout struct Celeste itself exposes. Its
// byte image is valid for any bit pattern: every field is a fixed-width
// integer or a single byte decoded as zero/nonzero, never through a
// strict bool constructor.
//
// Field order must not change: Go lays out struct fields in declaration
// order with the same natural alignment C uses for this field set, so
// this type's byte layout already matches the host's C ABI without any
// explicit padding fields.
type AutoSplitterInfo struct {
	Level               arch.Address
	Chapter             int32
	Mode                int32
	TimerActive         byte
	ChapterStarted      byte
	ChapterComplete     byte
	ChapterTime         int64
	ChapterStrawberries int32
	ChapterCassette     byte
	ChapterHeart        byte
	FileTime            int64
	FileStrawberries    int32
	FileCassettes       int32
	FileHearts          int32
}

func boolByte(b byte) bool { return b != 0 }

// Info is an immutable snapshot combining the raw AutoSplitterInfo with
// the derived fields computed each tick.
type Info struct {
	Raw AutoSplitterInfo

	DeathCount  uint32
	Checkpoint  uint32
	InCutscene  bool
	Room        string
}

// ErrSnapshotPending is returned by Snapshot when the tick produced no
// usable Info: either a read failed somewhere along the way, or the save
// profile just changed and the caller should let the next tick settle
// rather than sleep and retry inline. Both cases collapse to "no snapshot
// this tick" for the split state machine.
var ErrSnapshotPending = errors.New("celeste: no snapshot this tick")

// Snapshot reads AutoSplitterInfo and the derived fields, producing one
// Info value. Any read failure anywhere in the sequence aborts the whole
// snapshot (returns ErrSnapshotPending, wrapping the underlying error)
// without mutating a's cached state beyond prevSave/modeStats.
func (a *Adapter) Snapshot() (Info, error) {
	asi, err := procio.Read[AutoSplitterInfo](a.handle, a.infoAddr)
	if err != nil {
		return Info{}, fmt.Errorf("%w: reading AutoSplitterInfo: %v", ErrSnapshotPending, err)
	}

	room := ""
	if asi.Level != 0 {
		room, err = a.ref.ReadBoxedString(asi.Level)
		if err != nil {
			return Info{}, fmt.Errorf("%w: reading room name: %v", ErrSnapshotPending, err)
		}
	}

	save, err := mono.StaticField[arch.Address](a.ref, a.saveDataClass, "Instance")
	if err != nil {
		return Info{}, fmt.Errorf("%w: reading SaveData.Instance: %v", ErrSnapshotPending, err)
	}

	var deathCount, checkpoint uint32
	if save != 0 {
		if save != a.prevSave {
			a.prevSave = save
			a.modeStats = 0
			return Info{}, fmt.Errorf("%w: save profile changed", ErrSnapshotPending)
		}

		deathCount, err = mono.InstanceField[uint32](a.ref, save, "TotalDeaths")
		if err != nil {
			return Info{}, fmt.Errorf("%w: reading TotalDeaths: %v", ErrSnapshotPending, err)
		}

		if asi.Chapter == -1 {
			a.modeStats = 0
		} else if a.modeStats == 0 {
			modeStats, err := a.resolveModeStats(save, asi.Chapter, asi.Mode)
			if err != nil {
				return Info{}, fmt.Errorf("%w: resolving mode stats: %v", ErrSnapshotPending, err)
			}
			a.modeStats = modeStats
		}

		if a.modeStats != 0 {
			checkpointsObj, err := mono.InstanceField[arch.Address](a.ref, a.modeStats, "Checkpoints")
			if err != nil {
				return Info{}, fmt.Errorf("%w: reading Checkpoints: %v", ErrSnapshotPending, err)
			}
			checkpoint, err = mono.InstanceField[uint32](a.ref, checkpointsObj, "_count")
			if err != nil {
				return Info{}, fmt.Errorf("%w: reading Checkpoints._count: %v", ErrSnapshotPending, err)
			}
		}
	}

	inCutscene, err := a.computeInCutscene(asi)
	if err != nil {
		return Info{}, fmt.Errorf("%w: computing cutscene state: %v", ErrSnapshotPending, err)
	}

	return Info{
		Raw:        asi,
		DeathCount: deathCount,
		Checkpoint: checkpoint,
		InCutscene: inCutscene,
		Room:       room,
	}, nil
}

// resolveModeStats locates the AreaModeStats for the current chapter/mode
// pair, requiring the game to publish exactly eleven chapter entries (it
// always does, for this build).
func (a *Adapter) resolveModeStats(save arch.Address, chapter, mode int32) (arch.Address, error) {
	areas, err := mono.InstanceField[arch.Address](a.ref, save, "Areas")
	if err != nil {
		return 0, err
	}
	size, err := mono.InstanceField[uint32](a.ref, areas, "_size")
	if err != nil {
		return 0, err
	}
	if size != 11 {
		return 0, nil
	}
	items, err := mono.InstanceField[arch.Address](a.ref, areas, "_items")
	if err != nil {
		return 0, err
	}
	const arrayHeaderSize = 0x20
	areaStats, err := procio.Read[arch.Address](a.handle, items.Add(arrayHeaderSize+int64(chapter)*arch.PointerSize))
	if err != nil {
		return 0, err
	}
	modes, err := mono.InstanceField[arch.Address](a.ref, areaStats, "Modes")
	if err != nil {
		return 0, err
	}
	modeStats, err := procio.Read[arch.Address](a.handle, modes.Add(arrayHeaderSize+int64(mode)*arch.PointerSize))
	if err != nil {
		return 0, err
	}
	return modeStats, nil
}

// computeInCutscene derives the in-cutscene flag from the current scene
// object when one is loaded.
func (a *Adapter) computeInCutscene(asi AutoSplitterInfo) (bool, error) {
	if asi.Chapter == -1 {
		return false, nil
	}
	if !boolByte(asi.ChapterStarted) || boolByte(asi.ChapterComplete) {
		return true, nil
	}
	sceneOffset, err := a.ref.ClassFieldOffset(a.engineClass, "scene")
	if err != nil {
		return false, err
	}
	scene, err := procio.Read[arch.Address](a.handle, a.celesteInstance.Add(int64(sceneOffset)))
	if err != nil {
		return false, err
	}
	if scene == 0 {
		return false, nil
	}
	sceneClass, err := a.ref.InstanceClass(scene)
	if err != nil {
		return false, err
	}
	if sceneClass != a.levelClass {
		return false, nil
	}
	inCutscene, err := mono.InstanceField[byte](a.ref, scene, "InCutscene")
	if err != nil {
		return false, err
	}
	return inCutscene != 0, nil
}
