// Package errors defines the error taxonomy shared across the build lifecycle.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions
var (
	// Lifecycle errors
	ErrAlreadyRunning = errors.New("a build is already running")
	ErrStaleLock      = errors.New("stale lock file detected")
	ErrInterrupted    = errors.New("build interrupted")

	// Source sync errors
	ErrSourceUnavailable = errors.New("source repository unavailable")

	// Builder errors
	ErrBuilderUnavailable = errors.New("builder tool not found")
	ErrBuildFailed        = errors.New("build failed")

	// Publish errors
	ErrPublishFailed = errors.New("publish failed")

	// Artifact errors
	ErrNotFound = errors.New("artifact not found")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Wrap wraps an error with additional context
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is checks if the error is of a specific type
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As checks if the error can be unwrapped to the target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
