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
	"fmt"

	"github.com/pqsession/pqsession/go/pgwire/protocol"
)

// CopyGetLine reads one data block of a COPY OUT transfer. Returns the
// block and its positive length, (nil, -1) once the transfer is complete,
// or (nil, -2) on failure. The trailing command result remains to be
// collected with PollResult after the -1 return.
func (c *Conn) CopyGetLine() ([]byte, int) {
	if c.conn == nil || c.closed || c.bad {
		c.lastError = "no connection to the server"
		return nil, -2
	}
	if !c.inCopyOut {
		c.lastError = "no COPY in progress"
		return nil, -2
	}

	for {
		msgType, body, err := c.readMessage()
		if err != nil {
			c.fail(err)
			c.inCopyOut = false
			return nil, -2
		}

		switch msgType {
		case protocol.MsgCopyData:
			return body, len(body)

		case protocol.MsgCopyDone:
			c.inCopyOut = false
			return nil, -1

		case protocol.MsgErrorResponse:
			// The transfer failed server side. Record the diagnostic and
			// leave the stream positioned for PollResult to drain.
			c.inCopyOut = false
			if diag, perr := parseDiag(body); perr == nil {
				c.lastError = diag.String()
			}
			return nil, -2

		default:
			if !c.routeAsync(msgType, body) {
				c.fail(fmt.Errorf("unexpected message type during COPY OUT: %c (0x%02x)", msgType, msgType))
				c.inCopyOut = false
				return nil, -2
			}
		}
	}
}

// CopyPutLine sends one data block of a COPY IN transfer. Returns 1 on
// success and -1 on failure.
func (c *Conn) CopyPutLine(b []byte) int {
	if c.conn == nil || c.closed || c.bad {
		c.lastError = "no connection to the server"
		return -1
	}
	if !c.inCopyIn {
		c.lastError = "no COPY in progress"
		return -1
	}

	if err := c.writeMessage(protocol.MsgCopyData, b); err != nil {
		c.fail(err)
		return -1
	}
	return 1
}

// CopyEnd terminates a COPY IN transfer. Returns 1 on success and -1 on
// failure. The trailing command result remains to be collected with
// PollResult.
func (c *Conn) CopyEnd() int {
	if c.conn == nil || c.closed || c.bad {
		c.lastError = "no connection to the server"
		return -1
	}
	if !c.inCopyIn {
		c.lastError = "no COPY in progress"
		return -1
	}
	c.inCopyIn = false

	if err := c.writeMessage(protocol.MsgCopyDone, nil); err != nil {
		c.fail(err)
		return -1
	}
	return 1
}

// CopyFail aborts a COPY IN transfer with the given reason.
func (c *Conn) CopyFail(reason string) int {
	if c.conn == nil || c.closed || c.bad || !c.inCopyIn {
		return -1
	}
	c.inCopyIn = false

	w := NewMessageWriter()
	w.WriteString(reason)
	if err := c.writeMessage(protocol.MsgCopyFail, w.Bytes()); err != nil {
		c.fail(err)
		return -1
	}
	return 1
}
