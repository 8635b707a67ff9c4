package fs

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors shared by every component.
var (
	// ErrCancelled marks a cooperative cancellation. It is always a
	// distinct outcome from a genuine failure so callers can render
	// "cancelled" without inspecting error text.
	ErrCancelled = errors.New("operation cancelled")

	ErrTimeout          = errors.New("operation timeout")
	ErrInvalidOperation = errors.New("invalid operation")
)

type NotFoundError struct {
	Path string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

type InvalidPathError struct {
	Path string
}

func (e InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path: %s", e.Path)
}

type SymlinkLoopError struct {
	Path string
}

func (e SymlinkLoopError) Error() string {
	return fmt.Sprintf("symlink loop detected: %s", e.Path)
}

type PermissionError struct {
	Path string
}

func (e PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Path)
}

type AlreadyExistsError struct {
	Path string
}

func (e AlreadyExistsError) Error() string {
	return fmt.Sprintf("already exists: %s", e.Path)
}

func ErrNotFound(path string) error {
	return NotFoundError{Path: path}
}

func ErrInvalidPath(path string) error {
	return InvalidPathError{Path: path}
}

func WrapError(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// CancelErr maps a tripped context to ErrCancelled, keeping the
// cancellation outcome distinguishable via errors.Is.
func CancelErr(ctx context.Context) error {
	if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrCancelled
}

// IsCancelled reports whether err represents a cancellation outcome,
// from either this package or a raw context error.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
