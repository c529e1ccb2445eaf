package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/blog-platform/services/comments/internal/store"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	// ErrForbidden is returned when the post does not accept comments.
	ErrForbidden = errors.New("comments disabled")
	// ErrTimeout and ErrUnavailable are transient; callers may retry.
	ErrTimeout     = errors.New("store timeout")
	ErrUnavailable = errors.New("store unavailable")
	// ErrDuplicateRequest is returned while an earlier request with the same
	// idempotency key is still being processed.
	ErrDuplicateRequest = errors.New("duplicate request in flight")
	// ErrCanceled means the caller went away before the call finished.
	ErrCanceled = errors.New("request canceled")
)

// ValidationError lists rejected input fields with a message per field.
type ValidationError struct {
	Fields map[string]string
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// translate maps store and context failures onto the service taxonomy.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, store.ErrInvalidState):
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w: %w", op, ErrCanceled, err)
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// kind labels a translated error for metrics.
func kind(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden), errors.Is(err, ErrValidation),
		errors.Is(err, ErrCanceled):
		return ""
	}
	return "internal"
}
