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

	"github.com/pqsession/pqsession/go/pgwire"
	"github.com/pqsession/pqsession/go/pgwire/protocol"
)

// Send dispatches a simple-protocol query. Results are collected with
// PollResult.
func (c *Conn) Send(query string) error {
	if err := c.checkSendable(); err != nil {
		return err
	}

	w := NewMessageWriter()
	w.WriteString(query)
	if err := c.writeMessage(protocol.MsgQuery, w.Bytes()); err != nil {
		c.fail(err)
		return fmt.Errorf("failed to send query: %w", err)
	}

	c.beginRoundTrip()
	return nil
}

// SendParams dispatches a parameterized query through the extended
// protocol: Parse, Bind, Execute, Sync against the unnamed statement.
func (c *Conn) SendParams(query string, params []pgwire.Param) error {
	if err := c.checkSendable(); err != nil {
		return err
	}

	parse := NewMessageWriter()
	parse.WriteString("") // unnamed statement
	parse.WriteString(query)
	parse.WriteInt16(0) // no parameter type hints
	if err := c.writeMessageNoFlush(protocol.MsgParse, parse.Bytes()); err != nil {
		c.fail(err)
		return fmt.Errorf("failed to send parse: %w", err)
	}

	return c.bindExecuteSync("", params)
}

// SendPrepared dispatches an execution of a previously prepared statement.
func (c *Conn) SendPrepared(name string, params []pgwire.Param) error {
	if err := c.checkSendable(); err != nil {
		return err
	}
	return c.bindExecuteSync(name, params)
}

// SendPrepare dispatches a statement definition: Parse under the given
// name, then Sync. The round-trip produces a single command result.
func (c *Conn) SendPrepare(name, query string) error {
	if err := c.checkSendable(); err != nil {
		return err
	}

	parse := NewMessageWriter()
	parse.WriteString(name)
	parse.WriteString(query)
	parse.WriteInt16(0)
	if err := c.writeMessageNoFlush(protocol.MsgParse, parse.Bytes()); err != nil {
		c.fail(err)
		return fmt.Errorf("failed to send parse: %w", err)
	}
	if err := c.syncAndFlush(); err != nil {
		return err
	}

	c.beginRoundTrip()
	return nil
}

// bindExecuteSync writes the Bind, Execute, and Sync messages for an
// execution of the named (or unnamed) statement.
func (c *Conn) bindExecuteSync(statement string, params []pgwire.Param) error {
	bind := NewMessageWriter()
	bind.WriteString("") // unnamed portal
	bind.WriteString(statement)

	bind.WriteInt16(int16(len(params)))
	for _, p := range params {
		if p.Binary {
			bind.WriteInt16(protocol.FormatBinary)
		} else {
			bind.WriteInt16(protocol.FormatText)
		}
	}

	bind.WriteInt16(int16(len(params)))
	for _, p := range params {
		if p.Null {
			bind.WriteInt32(-1)
			continue
		}
		bind.WriteInt32(int32(len(p.Value)))
		bind.WriteBytes(p.Value)
	}

	bind.WriteInt16(0) // all result columns in text format

	if err := c.writeMessageNoFlush(protocol.MsgBind, bind.Bytes()); err != nil {
		c.fail(err)
		return fmt.Errorf("failed to send bind: %w", err)
	}

	execute := NewMessageWriter()
	execute.WriteString("") // unnamed portal
	execute.WriteInt32(0)   // no row limit
	if err := c.writeMessageNoFlush(protocol.MsgExecute, execute.Bytes()); err != nil {
		c.fail(err)
		return fmt.Errorf("failed to send execute: %w", err)
	}

	if err := c.syncAndFlush(); err != nil {
		return err
	}

	c.beginRoundTrip()
	return nil
}

// syncAndFlush terminates an extended-protocol batch.
func (c *Conn) syncAndFlush() error {
	if err := c.writeMessageNoFlush(protocol.MsgSync, nil); err != nil {
		c.fail(err)
		return fmt.Errorf("failed to send sync: %w", err)
	}
	if err := c.flush(); err != nil {
		c.fail(err)
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// checkSendable verifies that the connection can accept a new round-trip.
func (c *Conn) checkSendable() error {
	if c.conn == nil || c.closed {
		return fmt.Errorf("connection is closed")
	}
	if c.bad {
		return fmt.Errorf("connection is in a failed state: %s", c.lastError)
	}
	if c.pending || c.inCopyOut || c.inCopyIn {
		return fmt.Errorf("a round-trip is already in progress")
	}
	return nil
}

// beginRoundTrip resets the per-round-trip result state.
func (c *Conn) beginRoundTrip() {
	c.pending = true
	c.produced = false
}

// PollResult reads backend messages until one result set is complete and
// returns it. Returns (nil, nil) once the round-trip is exhausted. The
// caller keeps polling until then; asynchronous traffic encountered along
// the way is routed to the notification queue and notice callback.
func (c *Conn) PollResult() (*pgwire.RawResult, error) {
	if !c.pending {
		return nil, nil
	}
	if c.conn == nil || c.closed || c.bad {
		c.pending = false
		return nil, fmt.Errorf("connection lost mid query")
	}

	var current *pgwire.RawResult

	for {
		msgType, body, err := c.readMessage()
		if err != nil {
			c.fail(err)
			return nil, fmt.Errorf("failed to read result: %w", err)
		}

		switch msgType {
		case protocol.MsgRowDescription:
			fields, err := parseRowDescription(body)
			if err != nil {
				c.fail(err)
				return nil, err
			}
			current = &pgwire.RawResult{Status: pgwire.TuplesOK, Fields: fields}

		case protocol.MsgDataRow:
			if current == nil {
				err := fmt.Errorf("data row without row description")
				c.fail(err)
				return nil, err
			}
			row, err := parseDataRow(body)
			if err != nil {
				c.fail(err)
				return nil, err
			}
			current.Rows = append(current.Rows, row)

		case protocol.MsgCommandComplete:
			tag, err := NewMessageReader(body).ReadString()
			if err != nil {
				err = fmt.Errorf("failed to read command tag: %w", err)
				c.fail(err)
				return nil, err
			}
			if current == nil {
				current = &pgwire.RawResult{Status: pgwire.CommandOK}
			}
			current.Tag = tag
			c.produced = true
			return current, nil

		case protocol.MsgEmptyQueryResponse:
			c.produced = true
			return &pgwire.RawResult{Status: pgwire.EmptyQuery}, nil

		case protocol.MsgErrorResponse:
			diag, err := parseDiag(body)
			if err != nil {
				c.fail(err)
				return nil, err
			}
			c.lastError = diag.String()
			c.produced = true
			return &pgwire.RawResult{Status: pgwire.FatalError, Err: diag}, nil

		case protocol.MsgCopyInResponse:
			c.inCopyIn = true
			c.produced = true
			return &pgwire.RawResult{Status: pgwire.CopyIn}, nil

		case protocol.MsgCopyOutResponse:
			c.inCopyOut = true
			c.produced = true
			return &pgwire.RawResult{Status: pgwire.CopyOut}, nil

		case protocol.MsgReadyForQuery:
			if len(body) < 1 {
				err := fmt.Errorf("ready for query message too short")
				c.fail(err)
				return nil, err
			}
			c.txnStatus = protocol.TransactionStatus(body[0])
			c.pending = false
			if !c.produced {
				// A round-trip with no result-bearing message, such as a
				// bare Parse/Sync, still yields one command result.
				c.produced = true
				return &pgwire.RawResult{Status: pgwire.CommandOK}, nil
			}
			return nil, nil

		case protocol.MsgParseComplete, protocol.MsgBindComplete,
			protocol.MsgCloseComplete, protocol.MsgNoData,
			protocol.MsgPortalSuspended, protocol.MsgParameterDescription:
			// Extended-protocol bookkeeping.

		default:
			if !c.routeAsync(msgType, body) {
				err := fmt.Errorf("unexpected message type in result stream: %c (0x%02x)", msgType, msgType)
				c.fail(err)
				return nil, err
			}
		}
	}
}

// parseRowDescription extracts column names from a RowDescription body.
func parseRowDescription(body []byte) ([]string, error) {
	r := NewMessageReader(body)
	count, err := r.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("failed to read field count: %w", err)
	}

	fields := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("failed to read field name: %w", err)
		}
		// Table OID, attribute number, type OID, type size, type
		// modifier, format code.
		if _, err := r.ReadBytes(18); err != nil {
			return nil, fmt.Errorf("failed to read field description: %w", err)
		}
		fields = append(fields, name)
	}
	return fields, nil
}

// parseDataRow extracts the column values of a DataRow body. NULL columns
// come back as empty strings; nullness is not tracked at this layer.
func parseDataRow(body []byte) ([]string, error) {
	r := NewMessageReader(body)
	count, err := r.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("failed to read column count: %w", err)
	}

	row := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		val, err := r.ReadByteString()
		if err != nil {
			return nil, fmt.Errorf("failed to read column value: %w", err)
		}
		row = append(row, string(val))
	}
	return row, nil
}

// parseDiag decodes the tagged fields of an ErrorResponse or
// NoticeResponse body.
func parseDiag(body []byte) (*pgwire.ServerDiag, error) {
	r := NewMessageReader(body)
	diag := &pgwire.ServerDiag{}

	for {
		code, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("failed to read diagnostic field code: %w", err)
		}
		if code == 0 {
			return diag, nil
		}

		value, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("failed to read diagnostic field value: %w", err)
		}

		switch code {
		case protocol.FieldSeverity:
			diag.Severity = value
		case protocol.FieldCode:
			diag.Code = value
		case protocol.FieldMessage:
			diag.Message = value
		case protocol.FieldDetail:
			diag.Detail = value
		case protocol.FieldHint:
			diag.Hint = value
		default:
			// Ignore fields this layer does not surface.
		}
	}
}
