package models

import (
	"errors"
	"fmt"
)

// Error kinds shared across the pipeline
var (
	ErrParse           = errors.New("PARSE_ERROR")
	ErrValidation      = errors.New("VALIDATION_ERROR")
	ErrNetwork         = errors.New("NETWORK_ERROR")
	ErrStructureChange = errors.New("STRUCTURE_CHANGE")
)

// FieldError describes a single field that could not be extracted or was
// out of range
type FieldError struct {
	Kind     error
	Field    string
	RawValue string
	Message  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%v: %s (%q): %s", e.Kind, e.Field, e.RawValue, e.Message)
}

func (e *FieldError) Unwrap() error {
	return e.Kind
}

// ListingError attaches listing context to an error
type ListingError struct {
	Source     string
	ExternalID string
	URL        string
	Field      string
	RawValue   string
	Err        error
}

func (e *ListingError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("listing %s/%s (%s): field %s: %v", e.Source, e.ExternalID, e.URL, e.Field, e.Err)
	}
	return fmt.Sprintf("listing %s/%s (%s): %v", e.Source, e.ExternalID, e.URL, e.Err)
}

func (e *ListingError) Unwrap() error {
	return e.Err
}

// KindOf returns the name of the error kind, defaulting to INTERNAL
func KindOf(err error) string {
	for _, kind := range []error{ErrParse, ErrValidation, ErrNetwork, ErrStructureChange} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "INTERNAL"
}
