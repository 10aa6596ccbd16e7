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
	"testing"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pqsession/pqsession/go/pgwire"
)

func TestCopyOut(t *testing.T) {
	c := newStartedConn(t, func(t *testing.T, b *pgproto3.Backend) {
		if !expectQuery(t, b, "COPY people TO STDOUT") {
			return
		}
		b.Send(&pgproto3.CopyOutResponse{OverallFormat: 0, ColumnFormatCodes: []uint16{0, 0}})
		b.Send(&pgproto3.CopyData{Data: []byte("1\tada\n")})
		b.Send(&pgproto3.CopyData{Data: []byte("2\tgrace\n")})
		b.Send(&pgproto3.CopyDone{})
		b.Send(&pgproto3.CommandComplete{CommandTag: []byte("COPY 2")})
		b.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
		assert.NoError(t, b.Flush())
	})

	require.NoError(t, c.Send("COPY people TO STDOUT"))

	r, err := c.PollResult()
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, pgwire.CopyOut, r.Status)

	line, n := c.CopyGetLine()
	assert.Equal(t, 6, n)
	assert.Equal(t, "1\tada\n", string(line))

	line, n = c.CopyGetLine()
	assert.Equal(t, 8, n)
	assert.Equal(t, "2\tgrace\n", string(line))

	_, n = c.CopyGetLine()
	assert.Equal(t, -1, n)

	// The trailing command result is still there.
	r, err = c.PollResult()
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, pgwire.CommandOK, r.Status)
	assert.Equal(t, "COPY 2", r.Tag)

	r, err = c.PollResult()
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestCopyOutServerError(t *testing.T) {
	c := newStartedConn(t, func(t *testing.T, b *pgproto3.Backend) {
		if !expectQuery(t, b, "COPY people TO STDOUT") {
			return
		}
		b.Send(&pgproto3.CopyOutResponse{})
		b.Send(&pgproto3.CopyData{Data: []byte("1\tada\n")})
		b.Send(&pgproto3.ErrorResponse{Severity: "ERROR", Code: "57014", Message: "canceling statement"})
		b.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
		assert.NoError(t, b.Flush())
	})

	require.NoError(t, c.Send("COPY people TO STDOUT"))

	r, err := c.PollResult()
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, pgwire.CopyOut, r.Status)

	_, n := c.CopyGetLine()
	assert.Equal(t, 6, n)

	_, n = c.CopyGetLine()
	assert.Equal(t, -2, n)
	assert.Contains(t, c.ErrorMessage(), "canceling statement")
}

func TestCopyGetLineOutsideCopy(t *testing.T) {
	c := newStartedConn(t, nil)

	_, n := c.CopyGetLine()
	assert.Equal(t, -2, n)
	assert.Contains(t, c.ErrorMessage(), "no COPY in progress")
}

func TestCopyIn(t *testing.T) {
	c := newStartedConn(t, func(t *testing.T, b *pgproto3.Backend) {
		if !expectQuery(t, b, "COPY people FROM STDIN") {
			return
		}
		b.Send(&pgproto3.CopyInResponse{OverallFormat: 0, ColumnFormatCodes: []uint16{0, 0}})
		if !assert.NoError(t, b.Flush()) {
			return
		}

		var blocks []string
		for {
			msg, err := b.Receive()
			if !assert.NoError(t, err) {
				return
			}
			if _, done := msg.(*pgproto3.CopyDone); done {
				break
			}
			data, ok := msg.(*pgproto3.CopyData)
			if !assert.True(t, ok, "expected CopyData, got %T", msg) {
				return
			}
			blocks = append(blocks, string(data.Data))
		}
		assert.Equal(t, []string{"1\tada\n", "2\tgrace\n"}, blocks)

		b.Send(&pgproto3.CommandComplete{CommandTag: []byte("COPY 2")})
		b.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
		assert.NoError(t, b.Flush())
	})

	require.NoError(t, c.Send("COPY people FROM STDIN"))

	r, err := c.PollResult()
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, pgwire.CopyIn, r.Status)

	assert.Equal(t, 1, c.CopyPutLine([]byte("1\tada\n")))
	assert.Equal(t, 1, c.CopyPutLine([]byte("2\tgrace\n")))
	assert.Equal(t, 1, c.CopyEnd())

	r, err = c.PollResult()
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "COPY 2", r.Tag)

	r, err = c.PollResult()
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestCopyPutLineOutsideCopy(t *testing.T) {
	c := newStartedConn(t, nil)

	assert.Equal(t, -1, c.CopyPutLine([]byte("stray\n")))
	assert.Equal(t, -1, c.CopyEnd())
}
