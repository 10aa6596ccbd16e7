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

// Package client implements pgwire.Driver over a TCP connection: the
// PostgreSQL startup handshake, message framing, simple and extended query
// round-trips, the COPY sub-protocol, and the cancel side channel.
package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pqsession/pqsession/go/pgwire"
	"github.com/pqsession/pqsession/go/pgwire/protocol"
)

const (
	// connBufferSize is the size of the read and write buffers.
	connBufferSize = 16 * 1024

	// consumePollInterval bounds the non-blocking probe in ConsumeInput.
	consumePollInterval = time.Millisecond

	// consumeFrameTimeout bounds reading the remainder of a frame whose
	// first byte has already arrived.
	consumeFrameTimeout = 5 * time.Second
)

// Config holds the configuration for connecting to a PostgreSQL server.
type Config struct {
	// Host is the server hostname or IP address.
	Host string

	// Port is the server port number.
	Port int

	// User is the PostgreSQL user name.
	User string

	// Password is the user's password (optional for trust auth).
	Password string

	// Database is the database name to connect to.
	Database string

	// Parameters are additional startup parameters.
	Parameters map[string]string

	// DialTimeout is the timeout for establishing the TCP connection.
	DialTimeout time.Duration
}

// Addr returns the host:port dial address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Conn is a connection to a PostgreSQL server. It implements pgwire.Driver.
// Not safe for concurrent use.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer

	config *Config

	// fd is the transport descriptor for readiness waiting, or -1.
	fd int

	// Backend key data received during startup.
	processID uint32
	secretKey uint32

	// serverParams holds ParameterStatus values, updated whenever the
	// backend reports a change.
	serverParams map[string]string

	txnStatus protocol.TransactionStatus

	// bad marks the connection unusable after a protocol or I/O failure.
	bad    bool
	closed bool

	// lastError is the diagnostic text of the most recent failure.
	lastError string

	noticeFn func(string)

	// notifications queues push notifications until fetched.
	notifications []*pgwire.Notification

	// Round-trip state.
	pending  bool // results still to be read for the current round-trip
	produced bool // at least one result returned for the current round-trip

	// COPY sub-protocol state.
	inCopyOut bool
	inCopyIn  bool
}

var _ pgwire.Driver = (*Conn)(nil)

// Connect establishes a connection and performs the startup handshake.
func Connect(ctx context.Context, config *Config) (*Conn, error) {
	dialer := &net.Dialer{Timeout: config.DialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", config.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Addr(), err)
	}

	c := NewConn(netConn, config)
	if err := c.startup(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("startup failed: %w", err)
	}
	return c, nil
}

// NewConn wraps an established network connection without performing the
// startup handshake. Used by Connect and by tests that script the backend.
func NewConn(netConn net.Conn, config *Config) *Conn {
	return &Conn{
		conn:         netConn,
		br:           bufio.NewReaderSize(netConn, connBufferSize),
		bw:           bufio.NewWriterSize(netConn, connBufferSize),
		config:       config,
		fd:           descriptorOf(netConn),
		serverParams: make(map[string]string),
		txnStatus:    protocol.TxnStatusIdle,
	}
}

// descriptorOf extracts the file descriptor of a TCP or unix socket
// connection, or -1 when there is none (e.g. net.Pipe in tests).
func descriptorOf(netConn net.Conn) int {
	fd := -1
	switch t := netConn.(type) {
	case *net.TCPConn:
		if rc, err := t.SyscallConn(); err == nil {
			_ = rc.Control(func(f uintptr) { fd = int(f) })
		}
	case *net.UnixConn:
		if rc, err := t.SyscallConn(); err == nil {
			_ = rc.Control(func(f uintptr) { fd = int(f) })
		}
	}
	return fd
}

// Close tears down the connection, sending a best-effort Terminate first.
func (c *Conn) Close() {
	if c.closed {
		return
	}
	c.closed = true

	_ = c.writeMessageNoFlush(protocol.MsgTerminate, nil)
	_ = c.flush()
	_ = c.conn.Close()
}

// fail marks the connection bad and records the diagnostic.
func (c *Conn) fail(err error) {
	c.bad = true
	c.pending = false
	c.lastError = err.Error()
}

// Status reports the coarse connection status.
func (c *Conn) Status() pgwire.Status {
	if c.conn == nil || c.closed || c.bad {
		return pgwire.StatusBad
	}
	return pgwire.StatusOK
}

// BackendPID returns the backend process ID.
func (c *Conn) BackendPID() int {
	return int(c.processID)
}

// SecretKey returns the backend secret key for query cancellation.
func (c *Conn) SecretKey() uint32 {
	return c.secretKey
}

// ProtocolVersion returns the frontend/backend protocol major version.
func (c *Conn) ProtocolVersion() int {
	if c.conn == nil || c.closed {
		return 0
	}
	return protocol.ProtocolVersionMajor
}

// ServerVersion returns the numeric server version parsed from the
// server_version parameter, e.g. "16.4" -> 160004.
func (c *Conn) ServerVersion() int {
	return parseServerVersion(c.serverParams["server_version"])
}

// ErrorMessage returns the diagnostic text of the most recent failure.
func (c *Conn) ErrorMessage() string {
	return c.lastError
}

// TxnStatus returns the transaction status from the last ReadyForQuery.
func (c *Conn) TxnStatus() protocol.TransactionStatus {
	return c.txnStatus
}

// ServerParams returns the parameter status values reported by the server.
func (c *Conn) ServerParams() map[string]string {
	return c.serverParams
}

// Descriptor returns the transport descriptor, or -1.
func (c *Conn) Descriptor() int {
	if c.conn == nil || c.closed {
		return -1
	}
	return c.fd
}

// SetNoticeCallback installs fn as the receiver for out-of-band notice
// text. nil restores the inert default.
func (c *Conn) SetNoticeCallback(fn func(msg string)) {
	c.noticeFn = fn
}

// FetchNotification pops the next queued push notification, or nil.
func (c *Conn) FetchNotification() *pgwire.Notification {
	if len(c.notifications) == 0 {
		return nil
	}
	n := c.notifications[0]
	c.notifications = c.notifications[1:]
	return n
}

// ConsumeInput drains backend traffic that is already available without
// blocking for new data. Notifications are queued, notices delivered, and
// parameter changes recorded. Reports false when the connection is dead or
// the backend sent something that makes no sense between round-trips.
func (c *Conn) ConsumeInput() bool {
	if c.conn == nil || c.closed || c.bad {
		return false
	}
	// Traffic arriving mid round-trip is consumed by PollResult instead.
	if c.pending || c.inCopyOut || c.inCopyIn {
		return true
	}

	for {
		if c.br.Buffered() == 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(consumePollInterval))
			_, err := c.br.Peek(1)
			_ = c.conn.SetReadDeadline(time.Time{})
			if err != nil {
				if isTimeout(err) {
					return true
				}
				c.fail(err)
				return false
			}
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(consumeFrameTimeout))
		msgType, body, err := c.readMessage()
		_ = c.conn.SetReadDeadline(time.Time{})
		if err != nil {
			c.fail(err)
			return false
		}
		if !c.routeAsync(msgType, body) {
			c.fail(fmt.Errorf("unexpected message type between round-trips: %c (0x%02x)", msgType, msgType))
			return false
		}
	}
}

// routeAsync handles the message types the backend may send at any time.
// Returns false for anything else.
func (c *Conn) routeAsync(msgType byte, body []byte) bool {
	switch msgType {
	case protocol.MsgNotificationResponse:
		n, err := parseNotification(body)
		if err != nil {
			return false
		}
		c.notifications = append(c.notifications, n)
		return true

	case protocol.MsgNoticeResponse:
		if c.noticeFn != nil {
			if diag, err := parseDiag(body); err == nil {
				c.noticeFn(diag.String())
			}
		}
		return true

	case protocol.MsgParameterStatus:
		return c.handleParameterStatus(body) == nil

	default:
		return false
	}
}

// handleParameterStatus records a ParameterStatus update.
func (c *Conn) handleParameterStatus(body []byte) error {
	r := NewMessageReader(body)
	name, err := r.ReadString()
	if err != nil {
		return fmt.Errorf("failed to read parameter name: %w", err)
	}
	value, err := r.ReadString()
	if err != nil {
		return fmt.Errorf("failed to read parameter value: %w", err)
	}
	c.serverParams[name] = value
	return nil
}

// parseNotification parses a NotificationResponse body.
func parseNotification(body []byte) (*pgwire.Notification, error) {
	r := NewMessageReader(body)
	pid, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read notification pid: %w", err)
	}
	channel, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("failed to read notification channel: %w", err)
	}
	payload, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("failed to read notification payload: %w", err)
	}
	return &pgwire.Notification{
		Channel:    channel,
		Payload:    payload,
		BackendPID: int(pid),
	}, nil
}

// isTimeout reports whether err is a network timeout.
func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// flush flushes any buffered writes.
func (c *Conn) flush() error {
	return c.bw.Flush()
}
