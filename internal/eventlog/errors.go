package eventlog

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes event-store errors. The taxonomy is the stable
// contract callers dispatch on; the concrete backend is irrelevant to it.
type ErrorCode string

const (
	// CodeIntegrity indicates a chain link mismatch, a gap or duplicate in
	// seq, or a malformed record. Fatal for the affected read: the log is
	// considered corrupt and requires operator intervention. Never
	// auto-repaired.
	CodeIntegrity ErrorCode = "INTEGRITY"

	// CodeConflict indicates a conditional append lost the race because
	// another writer advanced the log. Not fatal; AppendWithRetry
	// refreshes its view and tries again until capped.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeBackend indicates a transport-layer failure against the store.
	// The Reason field discriminates credentials drift, missing bucket,
	// failed preconditions, and transient network faults, which drive
	// different operator responses.
	CodeBackend ErrorCode = "BACKEND"
)

// BackendReason discriminates backend failures for alerting.
type BackendReason string

const (
	ReasonAccessDenied       BackendReason = "access_denied"
	ReasonPreconditionFailed BackendReason = "precondition_failed"
	ReasonNoSuchBucket       BackendReason = "no_such_bucket"
	ReasonNetwork            BackendReason = "network"
)

// Error is the structured event-store error. It carries the offending seq
// where one exists so diagnostics can point at the exact record.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Seq is the offending sequence number, or -1 when no single record
	// is implicated.
	Seq int64

	// Reason discriminates backend failures; empty for other codes.
	Reason BackendReason

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Seq >= 0 {
		msg = fmt.Sprintf("%s (seq=%d)", msg, e.Seq)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewIntegrity creates an integrity error pointing at seq (-1 if none).
func NewIntegrity(seq int64, format string, args ...any) *Error {
	return &Error{Code: CodeIntegrity, Seq: seq, Message: fmt.Sprintf(format, args...)}
}

// NewConflict creates a conflict error for a lost append race at seq.
func NewConflict(seq int64, format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Seq: seq, Message: fmt.Sprintf(format, args...)}
}

// NewBackend wraps a transport failure with its discriminator. The
// underlying error is propagated unchanged for callers that need it.
func NewBackend(reason BackendReason, err error, format string, args ...any) *Error {
	return &Error{Code: CodeBackend, Seq: -1, Reason: reason, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsIntegrity reports whether err is an integrity error.
// Uses errors.As to handle wrapped errors.
func IsIntegrity(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == CodeIntegrity
}

// IsConflict reports whether err is an append conflict.
func IsConflict(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == CodeConflict
}

// IsBackend reports whether err is a backend transport failure.
func IsBackend(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == CodeBackend
}

// ReasonOf extracts the backend discriminator from err, or "" when err is
// not a backend error.
func ReasonOf(err error) BackendReason {
	var se *Error
	if errors.As(err, &se) && se.Code == CodeBackend {
		return se.Reason
	}
	return ""
}

// OffendingSeq extracts the offending seq from err, or -1.
func OffendingSeq(err error) int64 {
	var se *Error
	if errors.As(err, &se) {
		return se.Seq
	}
	return -1
}
