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

// Package session implements a client-side session manager for the
// PostgreSQL wire protocol: connection lifecycle, capability negotiation,
// query execution, bulk COPY streaming, and delivery of out-of-band notices
// and notifications.
//
// A Session drives exactly one pgwire.Driver handle and assumes a single
// logical thread of control: concurrent calls into the same session require
// external synchronization.
package session

import (
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pqsession/pqsession/go/pgwire"
)

// minServerVersion is the lowest server version the session accepts,
// in numeric libpq form. Versions at or below it are rejected permanently.
const minServerVersion = 90000

// minProtocolVersion is the lowest frontend/backend protocol major version
// the session accepts.
const minProtocolVersion = 3

// Transaction is the session's view of an active transaction object.
// At most one transaction may be registered with a session at a time; while
// one is registered, session-variable reads and writes are routed into it and
// notification delivery is suppressed.
type Transaction interface {
	// Description names the transaction for diagnostics.
	Description() string

	// SetVariable sets a variable within the transaction.
	SetVariable(name, value string) error

	// GetVariable reads a variable within the transaction.
	GetVariable(name string) (string, error)
}

// detachable is implemented by error handlers that hold a back-reference to
// their session; Close calls Detach so the handler cannot outlive the wiring.
type detachable interface {
	Detach()
}

// Session owns one logical connection to a PostgreSQL backend.
type Session struct {
	// drv is the protocol handle. nil while the session is inactive.
	drv pgwire.Driver

	// policy establishes and tears down physical connections.
	policy pgwire.ConnectPolicy

	// completed records that activation has been attempted. Once completed,
	// a session that is not open is broken for good.
	completed bool

	// serverVersion is read once during capability negotiation.
	serverVersion int

	// receivers maps channel name to the receivers registered for it,
	// in registration order.
	receivers map[string][]Receiver

	// handlers is the error-handler chain, oldest first. Dispatch walks it
	// in reverse.
	handlers []ErrorHandler

	// txn is the at-most-one active transaction, or nil.
	txn Transaction

	// uniqueID feeds AdornName. Per-session only; no cross-session
	// uniqueness is promised.
	uniqueID int

	// id tags this session's log records.
	id string

	logger *slog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for session trace output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// New creates a session that will obtain its connection handle from policy.
// The session performs no I/O until Init or Activate is called.
func New(policy pgwire.ConnectPolicy, opts ...Option) *Session {
	s := &Session{
		policy:    policy,
		receivers: make(map[string][]Receiver),
		id:        uuid.NewString(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init asks the connect policy to establish the physical session. If the
// policy reports the handle ready, Init proceeds to Activate.
func (s *Session) Init() error {
	drv, err := s.policy.StartConnect(s.drv)
	s.drv = drv
	if err != nil {
		// A session that never got a connection is broken the same way
		// as one that lost it.
		return brokenf("start connect: %s", err)
	}
	if s.policy.IsReady(s.drv) {
		return s.Activate()
	}
	return nil
}

// Activate completes session startup. Calling it again on an open session is
// a no-op; calling it again on a session that completed activation but is no
// longer open fails with a broken-connection error. A broken session is never
// silently resurrected.
func (s *Session) Activate() error {
	if s.completed {
		if s.IsOpen() {
			return nil
		}
		return &BrokenError{}
	}

	s.completed = true
	if !s.IsOpen() {
		s.Disconnect()
		return brokenf("%s", s.errMsgOr("could not connect"))
	}
	if err := s.setUpState(); err != nil {
		diag := err.Error()
		s.Disconnect()
		if errors.Is(err, ErrNotSupported) {
			return err
		}
		return brokenf("%s", diag)
	}
	return nil
}

// setUpState establishes the parts of logical session state that live on top
// of a fresh physical connection: capabilities, the inert notice callback,
// and re-issued LISTEN commands for any receivers that were registered before
// the handle existed.
func (s *Session) setUpState() error {
	if err := s.readCapabilities(); err != nil {
		return err
	}

	// Inert until an error handler is registered. The driver's notice
	// callback may fire from objects that outlive this session, so it is
	// only wired while a handler could care.
	s.drv.SetNoticeCallback(nil)

	s.logger.Debug("session activated",
		"session_id", s.id,
		"backend_pid", s.drv.BackendPID(),
		"server_version", s.serverVersion,
		"protocol_version", s.drv.ProtocolVersion(),
	)

	if len(s.receivers) > 0 {
		// Pipeline all LISTEN commands into a single round-trip.
		channels := make([]string, 0, len(s.receivers))
		for ch := range s.receivers {
			channels = append(channels, ch)
		}
		sort.Strings(channels)

		var restore strings.Builder
		last := ""
		for _, ch := range channels {
			// Multiple receivers may wait on the same channel; issue just
			// one LISTEN per channel.
			if ch == last {
				continue
			}
			quoted, err := s.QuoteName(ch)
			if err != nil {
				return err
			}
			restore.WriteString("LISTEN " + quoted + "; ")
			last = ch
		}

		if err := s.drv.Send(restore.String()); err == nil {
			for {
				r, err := s.drv.PollResult()
				if err != nil || r == nil {
					break
				}
			}
		}
	}

	if !s.IsOpen() {
		return brokenf("could not connect")
	}
	return nil
}

// readCapabilities reads the server and protocol versions and enforces the
// supported minimums. Violations are permanent rejections, not retried.
func (s *Session) readCapabilities() error {
	s.serverVersion = s.drv.ServerVersion()
	if s.serverVersion <= minServerVersion {
		return &NotSupportedError{
			Reason: "unsupported server version; 9.0 is the minimum",
		}
	}

	proto := s.drv.ProtocolVersion()
	if proto == 0 {
		return brokenf("no connection")
	}
	if proto < minProtocolVersion {
		return &NotSupportedError{
			Reason: "unsupported frontend/backend protocol version; 3.0 is the minimum",
		}
	}
	return nil
}

// Disconnect tears down the physical session unconditionally. It is always
// safe to call, including on an already-broken or never-activated session,
// and never fails.
func (s *Session) Disconnect() {
	s.drv = s.policy.Disconnect(s.drv)
}

// Close performs an orderly shutdown: it warns (through the notice
// processor) about an open transaction or outstanding receivers, clears the
// receiver registry, unwires every error handler, and disconnects. It never
// fails.
func (s *Session) Close() {
	if s.txn != nil {
		s.ProcessNotice("Closing session while " + s.txn.Description() + " is still open.")
	}

	if len(s.receivers) > 0 {
		s.ProcessNotice("Closing session with outstanding receivers.")
		s.receivers = make(map[string][]Receiver)
	}

	old := s.handlers
	s.handlers = nil
	for i := len(old) - 1; i >= 0; i-- {
		if d, ok := old[i].(detachable); ok {
			d.Detach()
		}
	}
	if s.drv != nil {
		s.drv.SetNoticeCallback(nil)
	}

	s.drv = s.policy.Disconnect(s.drv)
	s.logger.Debug("session closed", "session_id", s.id)
}

// IsOpen reports whether the handle is present, activation has completed,
// and the backend reports an OK status. Every other operation uses this as
// the single source of truth for whether it may touch the backend.
func (s *Session) IsOpen() bool {
	return s.drv != nil && s.completed && s.drv.Status() == pgwire.StatusOK
}

// SimulateFailure drops the physical handle as if the connection had died.
// Test hook; the session keeps its activation state.
func (s *Session) SimulateFailure() {
	if s.drv != nil {
		s.drv = s.policy.Disconnect(s.drv)
	}
}

// BackendPID returns the backend process ID, or 0 when inactive.
func (s *Session) BackendPID() int {
	if s.drv == nil {
		return 0
	}
	return s.drv.BackendPID()
}

// ProtocolVersion returns the protocol major version, or 0 when inactive.
func (s *Session) ProtocolVersion() int {
	if s.drv == nil {
		return 0
	}
	return s.drv.ProtocolVersion()
}

// ServerVersion returns the server version read at activation.
func (s *Session) ServerVersion() int {
	return s.serverVersion
}

// Sock returns the transport descriptor, or -1 when inactive.
func (s *Session) Sock() int {
	if s.drv == nil {
		return -1
	}
	return s.drv.Descriptor()
}

// ErrMsg returns the driver's last error text.
func (s *Session) ErrMsg() string {
	return s.errMsgOr("no connection to database")
}

func (s *Session) errMsgOr(fallback string) string {
	if s.drv == nil {
		return fallback
	}
	if msg := s.drv.ErrorMessage(); msg != "" {
		return msg
	}
	return fallback
}

// SetVariable sets a session variable. While a transaction is registered the
// write is routed into it; otherwise it is executed as a SET round-trip when
// the session is open, and silently recorded-nowhere when it is not.
func (s *Session) SetVariable(name, value string) error {
	if s.txn != nil {
		return s.txn.SetVariable(name, value)
	}
	if s.IsOpen() {
		return s.rawSetVar(name, value)
	}
	return nil
}

// GetVariable reads a session variable, routed into the registered
// transaction when one is open.
func (s *Session) GetVariable(name string) (string, error) {
	if s.txn != nil {
		return s.txn.GetVariable(name)
	}
	return s.rawGetVar(name)
}

func (s *Session) rawSetVar(name, value string) error {
	_, err := s.Exec("SET " + name + "=" + value)
	return err
}

func (s *Session) rawGetVar(name string) (string, error) {
	r, err := s.Exec("SHOW " + name)
	if err != nil {
		return "", err
	}
	if r.Len() == 0 {
		return "", &InternalError{Reason: "SHOW " + name + " returned no rows"}
	}
	return r.Value(0, 0), nil
}

// RegisterTransaction makes t the session's active transaction. Registering
// a second concurrent transaction is a programming error.
func (s *Session) RegisterTransaction(t Transaction) error {
	if t == nil {
		return &ArgumentError{Reason: "null transaction registered"}
	}
	if s.txn != nil {
		return &ArgumentError{
			Reason: "transaction " + t.Description() +
				" started while " + s.txn.Description() + " is still open",
		}
	}
	s.txn = t
	return nil
}

// UnregisterTransaction ends t's registration. A mismatch is reported
// through the notice processor, never raised: unregistration must stay safe
// during teardown.
func (s *Session) UnregisterTransaction(t Transaction) {
	if s.txn != t {
		desc := "<nil>"
		if t != nil {
			desc = t.Description()
		}
		s.ProcessNotice("Attempt to unregister transaction " + desc + " that is not active.")
		return
	}
	s.txn = nil
}

// AdornName generates a unique name based on n: per-session monotonically
// increasing, with no cross-session uniqueness promise.
func (s *Session) AdornName(n string) string {
	s.uniqueID++
	id := strconv.Itoa(s.uniqueID)
	if n == "" {
		return "x" + id
	}
	return n + "_" + id
}

// CancelQuery sends a best-effort cancel request for the in-flight query
// over the driver's side channel.
func (s *Session) CancelQuery() error {
	if s.drv == nil {
		return &BrokenError{Reason: "can't cancel query: connection is inactive"}
	}
	return s.drv.Cancel()
}

// ClientEncoding returns the client encoding currently in effect.
func (s *Session) ClientEncoding() (string, error) {
	if s.drv == nil {
		return "", &BrokenError{Reason: "could not obtain client encoding: not connected"}
	}
	return s.drv.ClientEncoding()
}

// SetClientEncoding changes the connection's client encoding.
func (s *Session) SetClientEncoding(name string) error {
	if s.drv == nil {
		return &BrokenError{Reason: "can't set client encoding: connection is inactive"}
	}
	return s.drv.SetClientEncoding(name)
}
