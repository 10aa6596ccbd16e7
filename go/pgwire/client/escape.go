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
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pqsession/pqsession/go/pgwire"
)

// EscapeString escapes s for inclusion inside a single-quoted SQL string
// literal. Quote characters are doubled; when the server does not run with
// standard_conforming_strings, backslashes are doubled as well.
func (c *Conn) EscapeString(s string) (string, error) {
	if strings.ContainsRune(s, 0) {
		return "", fmt.Errorf("string contains a NUL byte")
	}

	var b strings.Builder
	b.Grow(len(s))
	standardStrings := c.serverParams["standard_conforming_strings"] == "on"
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\'' || (ch == '\\' && !standardStrings) {
			b.WriteByte(ch)
		}
		b.WriteByte(ch)
	}
	return b.String(), nil
}

// EscapeIdentifier escapes s for use as a double-quoted SQL identifier.
// The result includes the surrounding quotes.
func (c *Conn) EscapeIdentifier(s string) (string, error) {
	if strings.ContainsRune(s, 0) {
		return "", fmt.Errorf("identifier contains a NUL byte")
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`, nil
}

// EscapeBytes renders b in the bytea hex input format, without quotes.
func (c *Conn) EscapeBytes(b []byte) string {
	return `\x` + hex.EncodeToString(b)
}

// UnescapeBytes reverses the bytea text output format, accepting both the
// hex format and the legacy escape format.
func (c *Conn) UnescapeBytes(s string) ([]byte, error) {
	if strings.HasPrefix(s, `\x`) {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid hex bytea: %w", err)
		}
		return b, nil
	}

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		if s[i] != '\\' {
			out = append(out, s[i])
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == '\\' {
			out = append(out, '\\')
			i += 2
			continue
		}
		if i+3 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			out = append(out, (s[i+1]-'0')<<6|(s[i+2]-'0')<<3|(s[i+3]-'0'))
			i += 4
			continue
		}
		return nil, fmt.Errorf("invalid escape sequence at offset %d", i)
	}
	return out, nil
}

func isOctal(ch byte) bool {
	return ch >= '0' && ch <= '7'
}

// ClientEncoding returns the connection's client character encoding as
// reported by the server.
func (c *Conn) ClientEncoding() (string, error) {
	if c.conn == nil || c.closed {
		return "", fmt.Errorf("connection is closed")
	}
	enc, ok := c.serverParams["client_encoding"]
	if !ok {
		return "", fmt.Errorf("server did not report a client encoding")
	}
	return enc, nil
}

// SetClientEncoding changes the connection's client character encoding
// with a server round-trip. The server confirms the change through a
// ParameterStatus update.
func (c *Conn) SetClientEncoding(name string) error {
	esc, err := c.EscapeString(name)
	if err != nil {
		return fmt.Errorf("invalid encoding name: %w", err)
	}

	if err := c.Send("SET client_encoding TO '" + esc + "'"); err != nil {
		return err
	}

	var diag *pgwire.ServerDiag
	for {
		r, err := c.PollResult()
		if err != nil {
			return err
		}
		if r == nil {
			break
		}
		if r.Status == pgwire.FatalError {
			diag = r.Err
		}
	}
	if diag != nil {
		return fmt.Errorf("failed to set client encoding: %s", diag.Message)
	}
	return nil
}
