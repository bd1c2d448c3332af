package parser

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoMatch is wrapped by TokenizeError when a line does not follow the
// common/combined log grammar at all.
var ErrNoMatch = errors.New("line does not match access log grammar")

// Field names a normalized record field. Values match the storage column names.
type Field string

const (
	FieldIPAddress     Field = "ip_address"
	FieldTimestamp     Field = "timestamp"
	FieldRequestMethod Field = "request_method"
	FieldResource      Field = "resource"
	FieldStatusCode    Field = "status_code"
	FieldResponseSize  Field = "response_size"
	FieldReferrer      Field = "referrer"
	FieldUserAgent     Field = "user_agent"
)

// required fields must normalize cleanly for a line to produce a record.
func (f Field) required() bool {
	switch f {
	case FieldIPAddress, FieldTimestamp, FieldStatusCode:
		return true
	}
	return false
}

// TokenizeError reports a line that could not be segmented into fields.
type TokenizeError struct {
	Line  int    // 1-based line number, set by the reader; 0 when unknown
	Input string // truncated copy of the offending line
	Err   error
}

func (e *TokenizeError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Input)
}

func (e *TokenizeError) Unwrap() error { return e.Err }

// FieldError reports a single field that failed normalization.
type FieldError struct {
	Field  Field
	Value  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s (value=%q)", e.Field, e.Reason, truncate(e.Value, 64))
}

// RejectError is returned for a tokenized line whose required fields did
// not normalize. It carries every field error found on the line.
type RejectError struct {
	Errors []*FieldError
}

func (e *RejectError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Error())
	}
	return "record rejected: " + strings.Join(parts, "; ")
}

// Unwrap exposes the individual field errors to errors.As.
func (e *RejectError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, fe := range e.Errors {
		errs[i] = fe
	}
	return errs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
