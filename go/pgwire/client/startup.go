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

package client

import (
	"context"
	"crypto/md5" //nolint:gosec // MD5 is required by PostgreSQL's legacy authentication protocol
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/pqsession/pqsession/go/pgwire/protocol"
)

// startup performs the connection startup handshake: it sends the startup
// message and processes responses until the server reports ReadyForQuery.
func (c *Conn) startup(ctx context.Context) error {
	if err := c.sendStartupMessage(); err != nil {
		return fmt.Errorf("failed to send startup message: %w", err)
	}
	return c.processStartupResponses(ctx)
}

// sendStartupMessage sends the startup message to the server.
func (c *Conn) sendStartupMessage() error {
	w := NewMessageWriter()

	// Protocol version (3.0).
	w.WriteUint32(protocol.ProtocolVersionNumber)

	// User parameter (required).
	w.WriteString("user")
	w.WriteString(c.config.User)

	// Database parameter (optional, defaults to user name on server).
	if c.config.Database != "" {
		w.WriteString("database")
		w.WriteString(c.config.Database)
	}

	// Additional parameters.
	for key, value := range c.config.Parameters {
		w.WriteString(key)
		w.WriteString(value)
	}

	// Null terminator for parameter list.
	w.WriteByte(0)

	return c.writeStartupPacket(w.Bytes())
}

// processStartupResponses processes all messages until ReadyForQuery.
func (c *Conn) processStartupResponses(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgType, body, err := c.readMessage()
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}

		switch msgType {
		case protocol.MsgAuthenticationRequest:
			if err := c.handleAuthenticationRequest(body); err != nil {
				return err
			}

		case protocol.MsgBackendKeyData:
			if err := c.handleBackendKeyData(body); err != nil {
				return err
			}

		case protocol.MsgParameterStatus:
			if err := c.handleParameterStatus(body); err != nil {
				return err
			}

		case protocol.MsgReadyForQuery:
			if len(body) < 1 {
				return fmt.Errorf("ready for query message too short")
			}
			c.txnStatus = protocol.TransactionStatus(body[0])
			return nil

		case protocol.MsgErrorResponse:
			diag, err := parseDiag(body)
			if err != nil {
				return err
			}
			c.lastError = diag.String()
			return fmt.Errorf("server rejected connection: %s", diag.Message)

		case protocol.MsgNoticeResponse:
			// Ignore notices during startup.

		default:
			return fmt.Errorf("unexpected message type during startup: %c (0x%02x)", msgType, msgType)
		}
	}
}

// handleAuthenticationRequest handles an AuthenticationRequest message.
func (c *Conn) handleAuthenticationRequest(body []byte) error {
	if len(body) < 4 {
		return fmt.Errorf("authentication message too short")
	}

	reader := NewMessageReader(body)
	authType, err := reader.ReadInt32()
	if err != nil {
		return fmt.Errorf("failed to read auth type: %w", err)
	}

	switch authType {
	case protocol.AuthOk:
		return nil

	case protocol.AuthCleartextPassword:
		return c.sendPasswordMessage(c.config.Password)

	case protocol.AuthMD5Password:
		salt, err := reader.ReadBytes(4)
		if err != nil {
			return fmt.Errorf("failed to read MD5 salt: %w", err)
		}
		return c.sendMD5PasswordMessage(c.config.Password, salt)

	default:
		return fmt.Errorf("unsupported authentication method: %d", authType)
	}
}

// sendPasswordMessage sends a cleartext password message.
func (c *Conn) sendPasswordMessage(password string) error {
	w := NewMessageWriter()
	w.WriteString(password)
	return c.writeMessage(protocol.MsgPasswordMsg, w.Bytes())
}

// sendMD5PasswordMessage sends an MD5 hashed password message.
// The wire format is "md5" + md5(md5(password + user) + salt).
func (c *Conn) sendMD5PasswordMessage(password string, salt []byte) error {
	inner := EncryptPassword(c.config.User, password)

	h := md5.New() //nolint:gosec // Required by PostgreSQL protocol
	h.Write([]byte(inner[3:]))
	h.Write(salt)

	return c.sendPasswordMessage("md5" + hex.EncodeToString(h.Sum(nil)))
}

// EncryptPassword produces the MD5-hashed form of a password as stored by
// the server, "md5" followed by md5(password + user) in hex.
func EncryptPassword(user, password string) string {
	h := md5.New() //nolint:gosec // Required by PostgreSQL protocol
	h.Write([]byte(password))
	h.Write([]byte(user))
	return "md5" + hex.EncodeToString(h.Sum(nil))
}

// handleBackendKeyData handles a BackendKeyData message.
func (c *Conn) handleBackendKeyData(body []byte) error {
	reader := NewMessageReader(body)

	processID, err := reader.ReadUint32()
	if err != nil {
		return fmt.Errorf("failed to read process ID: %w", err)
	}
	secretKey, err := reader.ReadUint32()
	if err != nil {
		return fmt.Errorf("failed to read secret key: %w", err)
	}

	c.processID = processID
	c.secretKey = secretKey
	return nil
}

// parseServerVersion converts a server_version string to the numeric form
// used for version comparisons: "16.4" -> 160004, "9.6.2" -> 90602.
// Trailing non-numeric suffixes such as "17beta1" are ignored after the
// leading numeric parts. Returns 0 when the string is empty or malformed.
func parseServerVersion(version string) int {
	if version == "" {
		return 0
	}

	var parts []int
	for _, field := range strings.SplitN(version, ".", 3) {
		digits := field
		for i, r := range field {
			if r < '0' || r > '9' {
				digits = field[:i]
				break
			}
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			break
		}
		parts = append(parts, n)
	}
	if len(parts) == 0 {
		return 0
	}

	major := parts[0]
	if major >= 10 {
		// Two-part versioning since PostgreSQL 10.
		minor := 0
		if len(parts) > 1 {
			minor = parts[1]
		}
		return major*10000 + minor
	}

	minor, patch := 0, 0
	if len(parts) > 1 {
		minor = parts[1]
	}
	if len(parts) > 2 {
		patch = parts[2]
	}
	return major*10000 + minor*100 + patch
}
