// Package syncerr holds the error taxonomy shared by fetch and dispatch.
package syncerr

import (
	"errors"
	"fmt"
)

// AuthError is a credential or grant failure. It aborts the current cycle
// and its message never carries secrets.
type AuthError struct {
	Integration string
	Status      int
	Diagnostic  string
}

func (e *AuthError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s auth failed (HTTP %d): %s", e.Integration, e.Status, e.Diagnostic)
	}
	return fmt.Sprintf("%s auth failed: %s", e.Integration, e.Diagnostic)
}

// TransportError wraps network and timeout failures
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamHTTPError is a non-2xx answer from a remote API
type UpstreamHTTPError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamHTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Body)
}

// MalformedResponseError is a 2xx answer that is not the expected JSON
type MalformedResponseError struct {
	Op  string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Op, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// MissingNaturalKeyError marks a record that can never be stored or dispatched
type MissingNaturalKeyError struct {
	Entity string
	Key    string
	Ref    string
}

func (e *MissingNaturalKeyError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("%s without %s", e.Entity, e.Key)
	}
	return fmt.Sprintf("%s %s without %s", e.Entity, e.Ref, e.Key)
}

// WriteError is a local storage failure on a single record
type WriteError struct {
	Table string
	Key   string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s[%s]: %v", e.Table, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsAuth reports whether err is or wraps an AuthError
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRetryable reports whether err is contained at page/chunk granularity
func IsRetryable(err error) bool {
	var (
		te *TransportError
		he *UpstreamHTTPError
		me *MalformedResponseError
	)
	return errors.As(err, &te) || errors.As(err, &he) || errors.As(err, &me)
}

// IsMissingKey reports whether err marks a permanently skipped record
func IsMissingKey(err error) bool {
	var mk *MissingNaturalKeyError
	return errors.As(err, &mk)
}
