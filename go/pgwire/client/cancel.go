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
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/pqsession/pqsession/go/pgwire/protocol"
)

// Cancel asks the server to abandon the query currently executing on this
// connection. The request travels over a separate short-lived connection
// carrying the backend key data from startup; it is a best-effort hint and
// succeeding says nothing about whether the query was actually interrupted.
func (c *Conn) Cancel() error {
	if c.conn == nil || c.closed {
		return fmt.Errorf("connection is closed")
	}
	if c.processID == 0 {
		return fmt.Errorf("no backend key data to cancel with")
	}

	dialer := &net.Dialer{Timeout: c.config.DialTimeout}
	cancelConn, err := dialer.Dial("tcp", c.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to open cancel connection: %w", err)
	}
	defer cancelConn.Close()

	// Cancel request packet: length, cancel code, process ID, secret key.
	var packet [16]byte
	binary.BigEndian.PutUint32(packet[0:], 16)
	binary.BigEndian.PutUint32(packet[4:], protocol.CancelRequestCode)
	binary.BigEndian.PutUint32(packet[8:], c.processID)
	binary.BigEndian.PutUint32(packet[12:], c.secretKey)

	if _, err := cancelConn.Write(packet[:]); err != nil {
		return fmt.Errorf("failed to send cancel request: %w", err)
	}

	// The server closes the connection without replying. Wait for the
	// close so the request is known to have been delivered.
	var scratch [1]byte
	if _, err := cancelConn.Read(scratch[:]); err != nil && err != io.EOF {
		return fmt.Errorf("cancel connection failed: %w", err)
	}
	return nil
}
