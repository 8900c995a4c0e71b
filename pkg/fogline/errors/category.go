// Package errors provides the delivery-failure taxonomy and retry machinery
// shared by the edge and cloud halves of the pipeline.
//
// Callers branch on a typed category, never on string matching:
//   - Transient: retry will likely help (network errors, 5xx, storage contention)
//   - Rejected: retry cannot help with the same input/credentials (401, 403)
//   - Invalid: the payload itself is malformed or schema-incomplete
//   - Fatal: the local backstop failed (durable buffer unwritable) and data
//     loss is possible; must never be swallowed
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how a failure should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	CategoryTransient Category = iota

	// CategoryRejected indicates retry with the same input cannot help.
	CategoryRejected

	// CategoryInvalid indicates a malformed or schema-incomplete payload.
	CategoryInvalid

	// CategoryFatal indicates the local durability backstop failed.
	CategoryFatal
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryRejected:
		return "rejected"
	case CategoryInvalid:
		return "invalid"
	case CategoryFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this failure should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s)", e.Context, e.Err, e.Category)
	}
	return fmt.Sprintf("%s (category: %s)", e.Err, e.Category)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Rejected creates a rejected error.
func Rejected(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryRejected, context)
}

// Invalid creates an invalid-payload error.
func Invalid(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryInvalid, context)
}

// Fatal creates a fatal local error.
func Fatal(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryFatal, context)
}

// Categorize determines how an error should be handled.
//
// Unknown errors default to transient: in an at-least-once pipeline a wasted
// retry is cheaper than a silently dropped event, and the authoritative
// dedup point makes retries harmless.
func Categorize(err error) Category {
	if err == nil {
		return CategoryTransient
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	// An expired per-attempt deadline is a timeout, which the delivery
	// contract treats as transient.
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}
	if errors.Is(err, context.Canceled) {
		return CategoryRejected
	}

	return CategoryTransient
}

// FromHTTPStatus maps a response status code onto the taxonomy.
func FromHTTPStatus(code int) Category {
	switch {
	case code >= 200 && code < 300:
		return CategoryTransient // not an error; callers check success first
	case code == 400 || code == 422:
		return CategoryInvalid
	case code == 401 || code == 403:
		return CategoryRejected
	default:
		return CategoryTransient
	}
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsFatal reports whether the error means the durability backstop failed.
func IsFatal(err error) bool {
	return Categorize(err) == CategoryFatal
}
