// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"time"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
)

// Stage is one step of a graph build.
//
// Description:
//
//	Stages run in a fixed order, each reading what earlier stages left in
//	the RunState and adding its own output. CanRun is called for every
//	stage before a run starts, against an empty RunState, and must have no
//	side effects: it reports whether the stage is configured well enough
//	to run at all. Execute does the work; an error aborts the run.
//
// Thread Safety:
//
//	The orchestrator never calls a stage concurrently with itself.
type Stage interface {
	Name() string
	CanRun(state *RunState) bool
	Execute(ctx context.Context, state *RunState) error
}

// RunState carries stage outputs through one run.
//
// Fields are written by the stage that owns them and read by later stages.
// Mode and Quality track the least trusted source any stage loaded from.
type RunState struct {
	RunID     string
	StartedAt time.Time

	Stops         []datatypes.Stop
	VirtualStops  []datatypes.Stop
	TransferEdges []datatypes.Edge
	Edges         []datatypes.Edge

	Mode    datatypes.DataSourceMode
	Quality datatypes.QualityScore

	Published *datatypes.VersionMeta

	message string
}

// NewRunState creates the state for a run.
func NewRunState(runID string, startedAt time.Time) *RunState {
	return &RunState{RunID: runID, StartedAt: startedAt}
}

// SetMessage sets the human-readable summary of the current stage.
func (s *RunState) SetMessage(msg string) {
	s.message = msg
}

// takeMessage returns and clears the stage message.
func (s *RunState) takeMessage() string {
	msg := s.message
	s.message = ""
	return msg
}

// observeSource folds a load's mode and quality into the run: the run is
// only as trusted as its least trusted input.
func (s *RunState) observeSource(mode datatypes.DataSourceMode, quality datatypes.QualityScore) {
	if s.Mode == "" {
		s.Mode, s.Quality = mode, quality
		return
	}
	if mode.Trust() < s.Mode.Trust() {
		s.Mode = mode
	}
	if quality < s.Quality {
		s.Quality = quality
	}
}

// Cities returns the distinct physical-stop cities, in first-seen order.
func (s *RunState) Cities() []string {
	seen := make(map[string]bool)
	var out []string
	for _, st := range s.Stops {
		key := datatypes.CityKey(st.City)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, st.City)
	}
	return out
}
