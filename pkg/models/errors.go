package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks
var (
	ErrValidation       = errors.New("validation failed")
	ErrMetadataConflict = errors.New("metadata conflict")
)

// ValidationError is returned when a draft cannot become an Event
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// MetadataConflictError signals two records sharing an event id but disagreeing
// on immutable metadata (a source-side identifier collision)
type MetadataConflictError struct {
	EventID  string
	Stored   Metadata
	Incoming Metadata
}

func (e *MetadataConflictError) Error() string {
	return fmt.Sprintf("metadata conflict for event %s: stored %s vs %s @%d, incoming %s vs %s @%d",
		e.EventID,
		e.Stored.HomeTeam, e.Stored.AwayTeam, e.Stored.StartTime,
		e.Incoming.HomeTeam, e.Incoming.AwayTeam, e.Incoming.StartTime)
}

// Is implements errors.Is support
func (e *MetadataConflictError) Is(target error) bool {
	return target == ErrMetadataConflict
}
