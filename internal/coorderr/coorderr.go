// Package coorderr defines the error taxonomy shared across the mesh
// coordinator: validation, transport, contention, preemption,
// collaborator and decode failures.
package coorderr

import (
	"errors"
	"fmt"
)

// Class identifies which bucket of the error taxonomy an error belongs to.
type Class int

const (
	// ClassValidation covers CLI misuse, out-of-range addresses, oversized TTLs.
	ClassValidation Class = iota
	// ClassTransport covers registry-unreachable and HTTP 5xx conditions.
	ClassTransport
	// ClassContention covers putOwnRecord returning false (lock already held).
	ClassContention
	// ClassPreemption covers the ownership verifier observing a foreign session ID.
	ClassPreemption
	// ClassCollaborator covers networkd restart or `wg show` failures.
	ClassCollaborator
	// ClassDecode covers malformed registry payloads; treated as transport for retry purposes.
	ClassDecode
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassTransport:
		return "transport"
	case ClassContention:
		return "contention"
	case ClassPreemption:
		return "preemption"
	case ClassCollaborator:
		return "collaborator"
	case ClassDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is a tagged error carrying its taxonomy class and an error chain.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Class, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a taxonomy class and an operation label.
func New(class Class, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: err}
}

// Newf is like New but builds the wrapped error from a format string.
func Newf(class Class, op, format string, args ...any) error {
	return New(class, op, fmt.Errorf(format, args...))
}

// ClassOf returns the taxonomy class of err, or ok=false if err was not
// constructed via this package.
func ClassOf(err error) (Class, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

// Is reports whether err (or any error in its chain) belongs to class.
func Is(err error, class Class) bool {
	c, ok := ClassOf(err)
	return ok && c == class
}
