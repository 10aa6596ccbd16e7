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

// Query-text-safe quoting helpers, built on the driver's backend-aware
// escaping primitives. All of them (except EscLike, which is pure) require
// a connection handle.

// Esc escapes a string for inclusion inside SQL single quotes.
func (s *Session) Esc(str string) (string, error) {
	if s.drv == nil {
		return "", &BrokenError{Reason: "can't escape string: connection is not active"}
	}
	out, err := s.drv.EscapeString(str)
	if err != nil {
		return "", &ArgumentError{Reason: err.Error()}
	}
	return out, nil
}

// EscRaw escapes binary data to the bytea text representation.
func (s *Session) EscRaw(data []byte) (string, error) {
	if s.drv == nil {
		return "", &BrokenError{Reason: "can't escape raw data: connection is not active"}
	}
	return s.drv.EscapeBytes(data), nil
}

// UnescRaw reverses EscRaw.
func (s *Session) UnescRaw(text string) ([]byte, error) {
	if s.drv == nil {
		return nil, &BrokenError{Reason: "can't unescape raw data: connection is not active"}
	}
	out, err := s.drv.UnescapeBytes(text)
	if err != nil {
		return nil, &ArgumentError{Reason: err.Error()}
	}
	return out, nil
}

// QuoteRaw escapes and quotes binary data as a bytea literal.
func (s *Session) QuoteRaw(data []byte) (string, error) {
	escaped, err := s.EscRaw(data)
	if err != nil {
		return "", err
	}
	return "'" + escaped + "'::bytea", nil
}

// Quote quotes binary data for use in query text.
func (s *Session) Quote(data []byte) (string, error) {
	return s.QuoteRaw(data)
}

// QuoteName quotes an SQL identifier, delimiters included. Quoting is not
// idempotent: quoting an already-quoted name quotes it again.
func (s *Session) QuoteName(identifier string) (string, error) {
	if s.drv == nil {
		return "", &BrokenError{Reason: "can't escape identifier: connection is not active"}
	}
	out, err := s.drv.EscapeIdentifier(identifier)
	if err != nil {
		return "", &BackendError{Diag: s.ErrMsg()}
	}
	return out, nil
}

// EscLike escapes the LIKE pattern metacharacters '_' and '%' with
// escapeChar, leaving everything else (including multi-byte characters)
// untouched.
func EscLike(str string, escapeChar rune) string {
	out := make([]rune, 0, len(str))
	for _, r := range str {
		if r == '_' || r == '%' {
			out = append(out, escapeChar)
		}
		out = append(out, r)
	}
	return string(out)
}
