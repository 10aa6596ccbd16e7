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

// Package pgwire defines the boundary between the session layer and the
// transport/protocol driver that actually owns the socket and the wire
// framing. The session layer consumes only this package.
package pgwire

// Status is the coarse connection status reported by a driver.
type Status int

const (
	// StatusOK means the connection is established and usable.
	StatusOK Status = iota

	// StatusBad means the connection is absent or unusable.
	StatusBad
)

// ResultStatus is the status code carried by a completed round-trip outcome.
type ResultStatus int

const (
	// CommandOK: a command that returns no rows completed successfully.
	CommandOK ResultStatus = iota

	// TuplesOK: a query completed successfully and returned rows.
	TuplesOK

	// CopyOut: the backend entered copy-out mode.
	CopyOut

	// CopyIn: the backend entered copy-in mode.
	CopyIn

	// EmptyQuery: the query string was empty.
	EmptyQuery

	// NonfatalError: the backend reported a notice-level problem.
	NonfatalError

	// FatalError: the backend reported an error for this round-trip.
	FatalError

	// BadResponse: the backend's response could not be understood.
	BadResponse
)

// ServerDiag carries the diagnostic fields of a backend error or notice.
type ServerDiag struct {
	Severity string
	Code     string // SQLSTATE
	Message  string
	Detail   string
	Hint     string
}

// String renders the diagnostic the way the backend would print it.
func (d *ServerDiag) String() string {
	s := d.Severity + ":  " + d.Message
	if d.Detail != "" {
		s += "\nDETAIL:  " + d.Detail
	}
	if d.Hint != "" {
		s += "\nHINT:  " + d.Hint
	}
	return s
}

// RawResult is the raw outcome of one completed round-trip, before the
// session layer wraps it. Value decoding is out of scope here: rows are
// carried as text-format strings.
type RawResult struct {
	// Status classifies the outcome.
	Status ResultStatus

	// Tag is the command completion tag ("SELECT 2", "INSERT 0 1", ...).
	Tag string

	// Fields holds the column names of the result set, if any.
	Fields []string

	// Rows holds the data rows in text format.
	Rows [][]string

	// Err carries the backend diagnostic when Status is FatalError or
	// NonfatalError.
	Err *ServerDiag
}

// Param is one query parameter: an explicit byte string with a null flag and
// a text/binary format flag. Parameters are passed out-of-line so that values
// never have to be built into the query text.
type Param struct {
	// Value is the parameter bytes. Ignored when Null is set.
	Value []byte

	// Null marks the parameter as SQL NULL.
	Null bool

	// Binary marks Value as binary-format rather than text.
	Binary bool
}

// Notification is one asynchronous pub/sub message pushed by the backend.
type Notification struct {
	// Channel is the notification channel name.
	Channel string

	// Payload is the optional payload string.
	Payload string

	// BackendPID identifies the backend process that sent the notification.
	BackendPID int
}

// Driver is the transport/protocol driver a session drives. Implementations
// own the socket, the authentication handshake, and the wire framing; the
// session layer owns lifecycle, dispatch, and result checking on top of it.
//
// A Driver is not safe for concurrent use; the session layer never calls it
// from more than one goroutine at a time.
type Driver interface {
	// Status reports the coarse connection status.
	Status() Status

	// BackendPID returns the server-side process ID for this connection.
	BackendPID() int

	// ProtocolVersion returns the frontend/backend protocol major version.
	ProtocolVersion() int

	// ServerVersion returns the numeric server version (e.g. 160004).
	ServerVersion() int

	// ErrorMessage returns the driver's last error text, or "" when none.
	ErrorMessage() string

	// Send enqueues a simple-query round-trip.
	Send(query string) error

	// SendParams enqueues a parameterized round-trip.
	SendParams(query string, params []Param) error

	// SendPrepared enqueues a round-trip executing a named prepared statement.
	SendPrepared(name string, params []Param) error

	// SendPrepare enqueues a round-trip registering a named prepared
	// statement for later execution via SendPrepared.
	SendPrepare(name, query string) error

	// PollResult fetches the next pending result of the current round-trip,
	// or nil when no more results are pending.
	PollResult() (*RawResult, error)

	// ConsumeInput drains pending backend traffic into the driver's queues
	// without blocking on new data. It reports false when input could not be
	// consumed (the connection is dead).
	ConsumeInput() bool

	// FetchNotification pops the next pending push notification, or nil.
	FetchNotification() *Notification

	// EscapeString escapes a string for inclusion inside SQL quotes.
	EscapeString(s string) (string, error)

	// EscapeBytes escapes binary data to the bytea text representation.
	EscapeBytes(b []byte) string

	// UnescapeBytes reverses EscapeBytes.
	UnescapeBytes(s string) ([]byte, error)

	// EscapeIdentifier quotes an SQL identifier, including the delimiters.
	EscapeIdentifier(s string) (string, error)

	// ClientEncoding returns the client encoding currently in effect.
	ClientEncoding() (string, error)

	// SetClientEncoding changes the client encoding via a round-trip.
	SetClientEncoding(name string) error

	// Descriptor returns the transport descriptor for readiness waiting,
	// or a negative value when there is none.
	Descriptor() int

	// SetNoticeCallback installs the receiver for out-of-band notice text,
	// or restores the inert default when fn is nil. The callback runs on the
	// driver's read path and must not fail.
	SetNoticeCallback(fn func(msg string))

	// CopyGetLine fetches one line of copy-out data. The second return value
	// is the line length when positive; -1 signals end of the copy stream,
	// -2 a fatal failure, and 0 an unexpected asynchronous state.
	CopyGetLine() ([]byte, int)

	// CopyPutLine sends one line of copy-in data. Returns 1 on success and
	// zero or negative on failure.
	CopyPutLine(b []byte) int

	// CopyEnd signals end-of-copy-data. Returns 1 on success, -1 on write
	// failure, and 0 on an unexpected asynchronous state.
	CopyEnd() int

	// Cancel sends a best-effort cancel request for the in-flight query over
	// a side channel.
	Cancel() error

	// Close tears down the physical connection. It never fails.
	Close()
}

// ConnectPolicy decides how physical connections are established and torn
// down. The session layer performs no reconnection of its own; a broken
// session stays broken until the caller installs a fresh handle through a
// new session.
type ConnectPolicy interface {
	// StartConnect establishes (or begins establishing) a connection,
	// given the current handle (usually nil). It returns the new handle.
	StartConnect(current Driver) (Driver, error)

	// IsReady reports whether the handle is ready for activation.
	IsReady(d Driver) bool

	// Disconnect tears the handle down and returns its replacement
	// (normally nil). It must tolerate a nil handle.
	Disconnect(d Driver) Driver
}
