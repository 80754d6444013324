// Package errors contains the error helpers used throughout wikisync. Errors
// are wrapped with a short description of the operation that failed, so that
// the final message reads like a stack of context, e.g.
// "apply remote to local: write file: permission denied".
package errors

import (
	goErrors "errors"
	"fmt"
)

// New returns an error with the given message.
func New(msg string, args ...interface{}) error {
	if len(args) == 0 {
		return goErrors.New(msg)
	}
	return fmt.Errorf(msg, args...)
}

// Is is a passthrough to the standard library so that callers only need to
// import this package.
func Is(err, target error) bool {
	return goErrors.Is(err, target)
}

// As is a passthrough to the standard library.
func As(err error, target interface{}) bool {
	return goErrors.As(err, target)
}

type withContext struct {
	context string
	err     error
}

// WithContext annotates `err` with a description of what was happening when
// it occurred. It returns nil if `err` is nil.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return withContext{context: context, err: err}
}

func (err withContext) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

func (err withContext) Unwrap() error {
	return err.err
}

// RootCause returns the innermost error that was wrapped by WithContext.
func RootCause(err error) error {
	for {
		wrapped, ok := err.(withContext)
		if !ok {
			return err
		}
		err = wrapped.err
	}
}

// FriendlyError is an error whose message is meant to be shown to the user
// directly, without any of the context used for debugging.
type FriendlyError interface {
	error
	FriendlyMessage() string
}

type friendlyError struct {
	msg string
}

// NewFriendlyError creates an error whose message is safe to show users.
func NewFriendlyError(msg string, args ...interface{}) error {
	return friendlyError{fmt.Sprintf(msg, args...)}
}

func (err friendlyError) Error() string {
	return err.msg
}

func (err friendlyError) FriendlyMessage() string {
	return err.msg
}

// GetFriendlyMessage returns the friendly message of the first FriendlyError
// found in the chain of `err`.
func GetFriendlyMessage(err error) (string, bool) {
	var friendly FriendlyError
	if goErrors.As(err, &friendly) {
		return friendly.FriendlyMessage(), true
	}
	return "", false
}
