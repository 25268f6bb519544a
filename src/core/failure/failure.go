// Package failure classifies job-processing errors and decides retry
// behaviour. Every caught error in the engine passes through Classify
// before any state transition or user-visible message is produced.
package failure

import (
	"errors"
	"fmt"
)

// Category buckets a failure for retry policy and reporting purposes.
type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryTimeout    Category = "timeout"
	CategoryResource   Category = "resource"
	CategoryValidation Category = "validation"
	CategoryPermission Category = "permission"
	CategoryRateLimit  Category = "rate_limit"
	CategoryProcessing Category = "processing"
	CategorySystem     Category = "system"
	CategoryUnknown    Category = "unknown"
)

// Severity grades how loudly a failure should be reported.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is a tagged failure produced at the layer that observed it
// (pipeline call, storage call, validation step). Producing layers set
// the category explicitly so classification does not depend on message
// text.
type Error struct {
	Category Category
	Code     string
	Err      error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Category, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with an explicit category tag.
func New(category Category, err error) *Error {
	return &Error{Category: category, Err: err}
}

// NewWithCode wraps err with a category tag and a machine-readable code.
func NewWithCode(category Category, code string, err error) *Error {
	return &Error{Category: category, Code: code, Err: err}
}

// Newf is shorthand for New with a formatted message.
func Newf(category Category, format string, args ...interface{}) *Error {
	return &Error{Category: category, Err: fmt.Errorf(format, args...)}
}

// CategoryOf returns the tagged category of err, or CategoryUnknown when
// err carries no tag.
func CategoryOf(err error) Category {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Category
	}
	return CategoryUnknown
}
