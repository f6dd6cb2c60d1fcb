package marathon

import (
	"errors"
	"fmt"
)

// FetchError is returned by FetchBatch. Transient is set for network errors,
// timeouts, 5xx and 429; other 4xx and schema mismatches are permanent.
type FetchError struct {
	StatusCode int // 0 when no response was received
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch failed (%s, status=%d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch failed (%s): %v", kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a FetchError worth retrying
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}

// ParseError describes why a single provider record could not be converted
type ParseError struct {
	EventID string
	Field   string
	Err     error
}

func (e *ParseError) Error() string {
	id := e.EventID
	if id == "" {
		id = "<unknown>"
	}
	return fmt.Sprintf("parsing event %s: field %s: %v", id, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
