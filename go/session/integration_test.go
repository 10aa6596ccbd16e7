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
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pqsession/pqsession/go/pgwire/client"
)

// newServedSession opens a Session over a real wire connection to an
// in-process backend running script on its own goroutine. The backend plays
// a trust-auth startup handshake first; script then drives the rest of the
// conversation. Scripts must use assert, not require: they do not run on
// the test goroutine.
func newServedSession(t *testing.T, script func(t *testing.T, b *pgproto3.Backend)) *Session {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		b := pgproto3.NewBackend(conn, conn)
		if !serveStartup(t, b) {
			return
		}
		script(t, b)
		// Hold the connection open until the client hangs up (the Terminate
		// that s.Close sends in t.Cleanup); closing as soon as the script
		// ends races the client's post-round-trip notification drain.
		_, _ = b.Receive()
	}()

	cfg := &client.Config{
		Host:        "127.0.0.1",
		Port:        ln.Addr().(*net.TCPAddr).Port,
		User:        "ada",
		Database:    "testdb",
		DialTimeout: 5 * time.Second,
	}
	s := New(client.NewPolicy(cfg))
	t.Cleanup(func() {
		s.Close()
		ln.Close()
		<-done
	})
	require.NoError(t, s.Init())
	return s
}

func serveStartup(t *testing.T, b *pgproto3.Backend) bool {
	msg, err := b.ReceiveStartupMessage()
	if !assert.NoError(t, err) {
		return false
	}
	startup, ok := msg.(*pgproto3.StartupMessage)
	if !assert.True(t, ok, "expected a startup message, got %T", msg) {
		return false
	}
	assert.Equal(t, "ada", startup.Parameters["user"])

	b.Send(&pgproto3.AuthenticationOk{})
	b.Send(&pgproto3.ParameterStatus{Name: "server_version", Value: "16.4"})
	b.Send(&pgproto3.ParameterStatus{Name: "client_encoding", Value: "UTF8"})
	b.Send(&pgproto3.BackendKeyData{ProcessID: 42, SecretKey: 4711})
	b.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	return assert.NoError(t, b.Flush())
}

func serveSimpleQuery(t *testing.T, b *pgproto3.Backend, query string) bool {
	msg, err := b.Receive()
	if !assert.NoError(t, err) {
		return false
	}
	q, ok := msg.(*pgproto3.Query)
	if !assert.True(t, ok, "expected Query, got %T", msg) {
		return false
	}
	return assert.Equal(t, query, q.String)
}

// serveSelectOne answers "SELECT 1" with a single-cell result.
func serveSelectOne(t *testing.T, b *pgproto3.Backend) {
	if !serveSimpleQuery(t, b, "SELECT 1") {
		return
	}
	b.Send(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{{
		Name:         []byte("?column?"),
		DataTypeOID:  23,
		DataTypeSize: 4,
		TypeModifier: -1,
	}}})
	b.Send(&pgproto3.DataRow{Values: [][]byte{[]byte("1")}})
	b.Send(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")})
	b.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	assert.NoError(t, b.Flush())
}

func TestCopyOutOverWire(t *testing.T) {
	s := newServedSession(t, func(t *testing.T, b *pgproto3.Backend) {
		if !serveSimpleQuery(t, b, "COPY people TO STDOUT") {
			return
		}
		b.Send(&pgproto3.CopyOutResponse{ColumnFormatCodes: []uint16{0, 0}})
		b.Send(&pgproto3.CopyData{Data: []byte("1\tada\n")})
		b.Send(&pgproto3.CopyData{Data: []byte("2\tgrace\n")})
		b.Send(&pgproto3.CopyDone{})
		b.Send(&pgproto3.CommandComplete{CommandTag: []byte("COPY 2")})
		b.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
		if !assert.NoError(t, b.Flush()) {
			return
		}
		serveSelectOne(t, b)
	})

	_, err := s.Exec("COPY people TO STDOUT")
	require.NoError(t, err)

	line, more, err := s.ReadCopyLine()
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, "1\tada\n", line)

	line, more, err = s.ReadCopyLine()
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, "2\tgrace\n", line)

	_, more, err = s.ReadCopyLine()
	require.NoError(t, err)
	assert.False(t, more)

	// The stream end left the session ready for regular traffic.
	r, err := s.Exec("SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, "1", r.Value(0, 0))
}

func TestCopyInOverWire(t *testing.T) {
	s := newServedSession(t, func(t *testing.T, b *pgproto3.Backend) {
		if !serveSimpleQuery(t, b, "COPY people FROM STDIN") {
			return
		}
		b.Send(&pgproto3.CopyInResponse{ColumnFormatCodes: []uint16{0, 0}})
		if !assert.NoError(t, b.Flush()) {
			return
		}

		var lines []string
	receive:
		for {
			msg, err := b.Receive()
			if !assert.NoError(t, err) {
				return
			}
			switch m := msg.(type) {
			case *pgproto3.CopyData:
				lines = append(lines, string(m.Data))
			case *pgproto3.CopyDone:
				break receive
			default:
				assert.Fail(t, "unexpected message during COPY IN", "%T", msg)
				return
			}
		}
		assert.Equal(t, []string{"1\tada\n", "2\tgrace\n"}, lines)

		b.Send(&pgproto3.CommandComplete{CommandTag: []byte("COPY 2")})
		b.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
		if !assert.NoError(t, b.Flush()) {
			return
		}
		serveSelectOne(t, b)
	})

	_, err := s.Exec("COPY people FROM STDIN")
	require.NoError(t, err)
	require.NoError(t, s.WriteCopyLine("1\tada"))
	require.NoError(t, s.WriteCopyLine("2\tgrace\n"))
	require.NoError(t, s.EndCopyWrite())

	// The session accepts regular traffic again.
	r, err := s.Exec("SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, "1", r.Value(0, 0))
}
