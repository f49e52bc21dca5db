package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrInvalidContext is returned when a FraudContext is missing or
	// malformed. It is never converted into a degraded result.
	ErrInvalidContext = errors.New("invalid fraud context")

	// ErrInvalidRule is returned when a rule definition fails
	// authoring-time validation.
	ErrInvalidRule = errors.New("invalid rule definition")

	// ErrInvalidRecord is returned for malformed history or reputation records.
	ErrInvalidRecord = errors.New("invalid record")
)

// ValidationError carries field-level messages for a rejected FraudContext.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return ErrInvalidContext.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidContext
}
