// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package datatypes

// DataSourceMode is the trust tier of data being served.
type DataSourceMode string

const (
	ModeReal     DataSourceMode = "REAL"
	ModeRecovery DataSourceMode = "RECOVERY"
	ModeMock     DataSourceMode = "MOCK"
	ModeUnknown  DataSourceMode = "UNKNOWN"
)

// AllModes lists modes from most to least trusted.
var AllModes = []DataSourceMode{ModeReal, ModeRecovery, ModeMock, ModeUnknown}

// Trust returns the ordinal trust of the mode: REAL > RECOVERY > MOCK > UNKNOWN.
func (m DataSourceMode) Trust() int {
	switch m {
	case ModeReal:
		return 3
	case ModeRecovery:
		return 2
	case ModeMock:
		return 1
	default:
		return 0
	}
}

// QualityScore measures a fetched payload's completeness and freshness, 0-100.
type QualityScore float64

// Clamp bounds q to [0,100].
func (q QualityScore) Clamp() QualityScore {
	switch {
	case q < 0:
		return 0
	case q > 100:
		return 100
	default:
		return q
	}
}
