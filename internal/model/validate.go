package model

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb/planar"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateZones checks a zone set for constraint violations: at least one
// zone, unique non-empty IDs, a section per zone, and an outline of at least
// three finite vertices enclosing a positive area.
// It returns a *ValidationError if any rules fail, or nil if the set is valid.
func ValidateZones(zones []Zone) error {
	var ve ValidationError

	if len(zones) == 0 {
		ve.add("zones", "at least one zone is required")
		return &ve
	}

	seen := make(map[string]int, len(zones))
	for i, z := range zones {
		field := fmt.Sprintf("zone[%d]", i)
		id := strings.TrimSpace(z.ID)
		if id == "" {
			ve.add(field+".id", "is required")
		} else {
			if id != z.ID {
				ve.add(field+".id", "must not have surrounding whitespace")
			}
			if prev, dup := seen[id]; dup {
				ve.add(field+".id", "duplicates zone[%d] (%q)", prev, id)
			} else {
				seen[id] = i
			}
		}

		if strings.TrimSpace(z.Section) == "" {
			ve.add(field+".section", "is required")
		}

		if len(z.Outline) < 3 {
			ve.add(field+".outline", "needs at least 3 vertices, got %d", len(z.Outline))
			continue
		}
		finite := true
		for _, p := range z.Outline {
			if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) || p.X < 0 || p.Y < 0 {
				finite = false
				break
			}
		}
		if !finite {
			ve.add(field+".outline", "coordinates must be finite and non-negative")
			continue
		}
		if planar.Area(z.Polygon()) == 0 {
			ve.add(field+".outline", "encloses no area")
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
