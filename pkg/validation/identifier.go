// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for values that end up in
// query languages.
//
// Route and stop ids come from upstream providers and are embedded in Flux
// queries against the historical departures bucket. Validating them keeps
// a hostile or corrupted payload from injecting Flux.
package validation

import (
	"fmt"
	"regexp"
)

// identifierPattern matches provider route and stop ids.
// Allows: letters, digits, dots, colons, underscores and hyphens.
// Max length: 128 characters.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,127}$`)

// ValidateIdentifier validates a route or stop id.
//
// Valid ids:
//   - 1-128 characters
//   - Start with a letter or digit
//   - Letters, digits, '.', ':', '_' and '-'
//
// Example:
//
//	if err := validation.ValidateIdentifier(routeID); err != nil {
//	    return fmt.Errorf("invalid route id: %w", err)
//	}
//	// Safe to use in a Flux query
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("invalid identifier format: %q", id)
	}
	return nil
}

// SplitIdentifiers partitions ids into valid and invalid, preserving order.
func SplitIdentifiers(ids []string) (valid, invalid []string) {
	for _, id := range ids {
		if ValidateIdentifier(id) == nil {
			valid = append(valid, id)
		} else {
			invalid = append(invalid, id)
		}
	}
	return valid, invalid
}
