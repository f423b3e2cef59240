// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package faults

// Decision is the outcome of the fallback-decision function.
type Decision int

const (
	// DecisionReal serves the fetched payload as-is.
	DecisionReal Decision = iota

	// DecisionRecovery repairs the payload from the last good cache entry.
	DecisionRecovery

	// DecisionMock serves deterministic synthetic data.
	DecisionMock

	// DecisionFail surfaces the error; no fallback remains.
	DecisionFail
)

// String returns a lower-case name for logs.
func (d Decision) String() string {
	switch d {
	case DecisionReal:
		return "real"
	case DecisionRecovery:
		return "recovery"
	case DecisionMock:
		return "mock"
	case DecisionFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Thresholds are the quality cut-offs between modes. Real must exceed Recovery.
type Thresholds struct {
	Real     float64
	Recovery float64
}

// DefaultThresholds returns Real=90, Recovery=50.
func DefaultThresholds() Thresholds {
	return Thresholds{Real: 90, Recovery: 50}
}

// Decide is the single fallback-decision function.
//
// # Description
//
// Given the outcome of one step in the fallback chain (a quality score or
// an error), Decide names the next step. The selector calls it after the
// provider fetch, after a failed repair, and after a failed mock, so every
// transition in the chain goes through this one switch.
//
// # Inputs
//
//   - score: Quality of the payload just obtained. Ignored when err != nil.
//   - err: Error from the step, tagged or untagged. Untagged errors count
//     as RECOVERABLE.
//   - th: Mode thresholds.
//
// # Outputs
//
//   - Decision: Next step.
//
// # Rules
//
//	err == nil, score >= th.Real               -> DecisionReal
//	err == nil, th.Recovery <= score < th.Real -> DecisionRecovery
//	err == nil, score < th.Recovery            -> DecisionMock
//	RECOVERABLE                                -> DecisionRecovery
//	WARNING                                    -> DecisionMock
//	CRITICAL                                   -> DecisionFail
func Decide(score float64, err error, th Thresholds) Decision {
	if err != nil {
		switch SeverityOf(err) {
		case SeverityCritical:
			return DecisionFail
		case SeverityWarning:
			return DecisionMock
		default:
			return DecisionRecovery
		}
	}
	switch {
	case score >= th.Real:
		return DecisionReal
	case score >= th.Recovery:
		return DecisionRecovery
	default:
		return DecisionMock
	}
}
