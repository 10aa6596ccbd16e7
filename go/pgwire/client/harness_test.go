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
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testConfig is the config used by all scripted connections.
func testConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "ada",
		Password: "hunter2",
		Database: "testdb",
	}
}

// defaultServerParams is what the scripted backend reports at startup.
func defaultServerParams() map[string]string {
	return map[string]string{
		"server_version":              "16.4",
		"client_encoding":             "UTF8",
		"standard_conforming_strings": "on",
	}
}

// newScriptedConn wires a Conn to an in-process backend running script on
// its own goroutine. The connection is torn down, and the script goroutine
// joined, when the test ends. Scripts must use assert, not require: they
// do not run on the test goroutine.
func newScriptedConn(t *testing.T, script func(t *testing.T, b *pgproto3.Backend)) *Conn {
	t.Helper()

	clientEnd, serverEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer serverEnd.Close()
		b := pgproto3.NewBackend(serverEnd, serverEnd)
		script(t, b)
		// Hold the server end open until the client hangs up; closing as
		// soon as the script ends races the client's between-round-trip
		// reads, which would see EOF instead of a quiet connection.
		_, _ = b.Receive()
	}()
	t.Cleanup(func() {
		clientEnd.Close()
		<-done
	})

	return NewConn(clientEnd, testConfig())
}

// acceptStartup plays the server side of a trust-auth startup handshake.
func acceptStartup(t *testing.T, b *pgproto3.Backend, params map[string]string) bool {
	msg, err := b.ReceiveStartupMessage()
	if !assert.NoError(t, err) {
		return false
	}
	startup, ok := msg.(*pgproto3.StartupMessage)
	if !assert.True(t, ok, "expected a startup message, got %T", msg) {
		return false
	}
	assert.Equal(t, "ada", startup.Parameters["user"])
	assert.Equal(t, "testdb", startup.Parameters["database"])

	b.Send(&pgproto3.AuthenticationOk{})
	for name, value := range params {
		b.Send(&pgproto3.ParameterStatus{Name: name, Value: value})
	}
	b.Send(&pgproto3.BackendKeyData{ProcessID: 42, SecretKey: 4711})
	b.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	return assert.NoError(t, b.Flush())
}

// newStartedConn returns a Conn that has completed startup against a
// scripted backend; script then plays the rest of the conversation.
func newStartedConn(t *testing.T, script func(t *testing.T, b *pgproto3.Backend)) *Conn {
	t.Helper()

	c := newScriptedConn(t, func(t *testing.T, b *pgproto3.Backend) {
		if !acceptStartup(t, b, defaultServerParams()) {
			return
		}
		if script != nil {
			script(t, b)
		}
	})
	require.NoError(t, c.startup(context.Background()))
	return c
}

// expectQuery asserts that the next frontend message is a simple query
// with the given text.
func expectQuery(t *testing.T, b *pgproto3.Backend, query string) bool {
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
