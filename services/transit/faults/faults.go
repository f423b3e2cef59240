// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package faults defines the tagged error variant shared by the transit
// services and the single function that turns an error plus a quality
// score into a data-source decision.
//
// Every domain error is an *Error carrying a Kind, a Severity and a small
// string context map. Callers match on Kind with errors.Is against the
// exported sentinels:
//
//	if errors.Is(err, faults.ErrGraphOutOfSync) {
//	    // retry with backoff
//	}
//
// Only four conditions are allowed to reach a search caller: the three
// search kinds and any CRITICAL error. Everything else is absorbed by the
// selector or the pipeline orchestrator.
package faults

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Kind and Severity
// =============================================================================

// Kind names what went wrong.
type Kind string

const (
	KindStopsNotFound  Kind = "STOPS_NOT_FOUND"
	KindRoutesNotFound Kind = "ROUTES_NOT_FOUND"
	KindGraphOutOfSync Kind = "GRAPH_OUT_OF_SYNC"
	KindUpstream       Kind = "UPSTREAM"
	KindCache          Kind = "CACHE"
	KindRecovery       Kind = "RECOVERY"
	KindMockProvider   Kind = "MOCK_PROVIDER"
	KindValidation     Kind = "VALIDATION"
)

// Severity governs how far an error may propagate.
type Severity string

const (
	// SeverityRecoverable errors trigger the next fallback automatically.
	SeverityRecoverable Severity = "RECOVERABLE"

	// SeverityWarning errors are logged and execution continues with the
	// best data available.
	SeverityWarning Severity = "WARNING"

	// SeverityCritical errors have no fallback and reach the caller.
	SeverityCritical Severity = "CRITICAL"
)

// =============================================================================
// Error
// =============================================================================

// Error is the tagged error variant {kind, severity, context}.
//
// Thread Safety: immutable after construction.
type Error struct {
	Kind     Kind
	Severity Severity
	Message  string
	Context  map[string]string
	Err      error
}

// Error formats as "KIND: message (k=v, ...): cause". Context keys are sorted.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so the package sentinels work
// with errors.Is regardless of severity or context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var _ error = (*Error)(nil)

// Sentinels for errors.Is matching by kind.
var (
	ErrStopsNotFound  = &Error{Kind: KindStopsNotFound}
	ErrRoutesNotFound = &Error{Kind: KindRoutesNotFound}
	ErrGraphOutOfSync = &Error{Kind: KindGraphOutOfSync}
	ErrUpstream       = &Error{Kind: KindUpstream}
	ErrCache          = &Error{Kind: KindCache}
	ErrRecovery       = &Error{Kind: KindRecovery}
	ErrMockProvider   = &Error{Kind: KindMockProvider}
	ErrValidation     = &Error{Kind: KindValidation}
)

// New creates an *Error. kv is a flat list of context key/value pairs.
func New(kind Kind, severity Severity, msg string, cause error, kv ...string) *Error {
	e := &Error{Kind: kind, Severity: severity, Message: msg, Err: cause}
	if len(kv) > 1 {
		e.Context = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			e.Context[kv[i]] = kv[i+1]
		}
	}
	return e
}

// StopsNotFound reports that no stop matches a city name.
func StopsNotFound(city string) *Error {
	return New(KindStopsNotFound, SeverityWarning, "no stops for city", nil, "city", city)
}

// RoutesNotFound reports that no path connects two cities.
func RoutesNotFound(from, to string) *Error {
	return New(KindRoutesNotFound, SeverityWarning, "no connecting route", nil, "from", from, "to", to)
}

// GraphOutOfSync reports a missing or incomplete current graph version.
func GraphOutOfSync(reason string) *Error {
	return New(KindGraphOutOfSync, SeverityRecoverable, reason, nil)
}

// Upstream wraps a provider failure. Always RECOVERABLE.
func Upstream(cause error, kv ...string) *Error {
	return New(KindUpstream, SeverityRecoverable, "upstream provider failed", cause, kv...)
}

// Cache wraps a cache read/write failure. Always WARNING.
func Cache(cause error, kv ...string) *Error {
	return New(KindCache, SeverityWarning, "cache operation failed", cause, kv...)
}

// RecoveryFailed reports that cached repair did not improve the payload.
func RecoveryFailed(reason string, kv ...string) *Error {
	return New(KindRecovery, SeverityWarning, reason, nil, kv...)
}

// MockFailed wraps a failure of the synthetic data provider. Always CRITICAL.
func MockFailed(cause error) *Error {
	return New(KindMockProvider, SeverityCritical, "synthetic data provider failed", cause)
}

// Validation wraps a graph validation failure.
func Validation(cause error, kv ...string) *Error {
	return New(KindValidation, SeverityWarning, "graph validation failed", cause, kv...)
}

// SeverityOf returns the severity of err. Untagged errors are treated as
// RECOVERABLE upstream failures; nil has no severity.
func SeverityOf(err error) Severity {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Severity
	}
	return SeverityRecoverable
}

// KindOf returns the kind of err, or "" for untagged errors and nil.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Retryable reports whether the caller should retry err with backoff.
// Only GRAPH_OUT_OF_SYNC is transient from a search caller's viewpoint.
func Retryable(err error) bool {
	return errors.Is(err, ErrGraphOutOfSync)
}

// CrossesBoundary reports whether err may be surfaced to a search caller.
func CrossesBoundary(err error) bool {
	switch KindOf(err) {
	case KindStopsNotFound, KindRoutesNotFound, KindGraphOutOfSync:
		return true
	}
	return SeverityOf(err) == SeverityCritical
}

// UserMessage translates err into plain language with no internal detail.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindStopsNotFound:
		return "We could not find any stops for one of the cities you entered. Please check the spelling and try again."
	case KindRoutesNotFound:
		return "No routes connect these cities on the selected date."
	case KindGraphOutOfSync:
		return "Route data is being updated. Please try again in a moment."
	}
	if SeverityOf(err) == SeverityCritical {
		return "Route data is temporarily unavailable. Please try again later."
	}
	return "Something went wrong while searching for routes."
}
