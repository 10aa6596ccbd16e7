// Copyright 2025 The pqsession Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"errors"
	"fmt"
)

// Sentinel targets for errors.Is. Each typed error below matches its
// sentinel, so callers can classify failures without caring about the
// concrete message.
var (
	// ErrBroken matches broken-connection failures: the session is absent,
	// inactive, or the backend reported a non-OK status.
	ErrBroken = errors.New("broken connection")

	// ErrBackend matches failures reported by the backend for a completed
	// round-trip.
	ErrBackend = errors.New("backend failure")

	// ErrInternal matches protocol invariant violations. These indicate a
	// usage or implementation bug, not an operational condition.
	ErrInternal = errors.New("internal error")

	// ErrArgument matches invalid caller input at the API boundary.
	ErrArgument = errors.New("invalid argument")

	// ErrNotSupported matches permanent capability rejections.
	ErrNotSupported = errors.New("feature not supported")
)

// BrokenError reports that an operation needed a live connection and did not
// have one. It is never retried by this layer.
type BrokenError struct {
	Reason string
}

func (e *BrokenError) Error() string {
	if e.Reason == "" {
		return "broken connection"
	}
	return "broken connection: " + e.Reason
}

func (e *BrokenError) Is(target error) bool { return target == ErrBroken }

// brokenf builds a BrokenError with a formatted reason.
func brokenf(format string, args ...any) error {
	return &BrokenError{Reason: fmt.Sprintf(format, args...)}
}

// BackendError reports a round-trip that completed but failed on the backend
// side. Diag holds the backend-supplied diagnostic text.
type BackendError struct {
	Diag string
}

func (e *BackendError) Error() string { return e.Diag }

func (e *BackendError) Is(target error) bool { return target == ErrBackend }

// SQLError is a BackendError that carries a SQLSTATE code, produced when a
// result's own status reports an error.
type SQLError struct {
	Diag  string
	Code  string // SQLSTATE
	Query string // originating query text, if known
}

func (e *SQLError) Error() string { return e.Diag }

func (e *SQLError) Is(target error) bool { return target == ErrBackend }

// InternalError reports a violated protocol invariant.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string { return "internal error: " + e.Reason }

func (e *InternalError) Is(target error) bool { return target == ErrInternal }

// ArgumentError reports invalid caller-supplied input.
type ArgumentError struct {
	Reason string
}

func (e *ArgumentError) Error() string { return e.Reason }

func (e *ArgumentError) Is(target error) bool { return target == ErrArgument }

// NotSupportedError reports a capability below the supported minimum.
// It is permanent: the session does not retry negotiation.
type NotSupportedError struct {
	Reason string
}

func (e *NotSupportedError) Error() string { return e.Reason }

func (e *NotSupportedError) Is(target error) bool { return target == ErrNotSupported }
