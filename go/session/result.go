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

import "github.com/pqsession/pqsession/go/pgwire"

// Result is the immutable outcome of one completed round-trip. It carries
// the originating query text and the client encoding in effect when it was
// created, so values can be interpreted later without the session. After
// return it shares no state with the session.
type Result struct {
	raw      *pgwire.RawResult
	query    string
	encoding string
}

// makeResult wraps a raw round-trip outcome, tagging it with the originating
// query and the encoding currently in effect.
func (s *Session) makeResult(raw *pgwire.RawResult, query string) *Result {
	enc := ""
	if s.drv != nil {
		enc, _ = s.drv.ClientEncoding()
	}
	return &Result{raw: raw, query: query, encoding: enc}
}

// valid reports whether the round-trip produced a usable result object.
func (r *Result) valid() bool {
	return r != nil && r.raw != nil
}

// checkStatus validates the result's own status code.
func (r *Result) checkStatus() error {
	switch r.raw.Status {
	case pgwire.BadResponse:
		return &BackendError{Diag: r.diag("invalid server response")}
	case pgwire.FatalError:
		code := ""
		if r.raw.Err != nil {
			code = r.raw.Err.Code
		}
		return &SQLError{
			Diag:  r.diag("fatal error"),
			Code:  code,
			Query: r.query,
		}
	default:
		return nil
	}
}

func (r *Result) diag(fallback string) string {
	if r.raw.Err != nil {
		return r.raw.Err.String()
	}
	return fallback
}

// Query returns the originating query text.
func (r *Result) Query() string { return r.query }

// Encoding returns the client encoding in effect when the result was made.
func (r *Result) Encoding() string { return r.encoding }

// Tag returns the command completion tag, e.g. "SELECT 2".
func (r *Result) Tag() string {
	if !r.valid() {
		return ""
	}
	return r.raw.Tag
}

// Len returns the number of data rows.
func (r *Result) Len() int {
	if !r.valid() {
		return 0
	}
	return len(r.raw.Rows)
}

// Columns returns the column names of the result set.
func (r *Result) Columns() []string {
	if !r.valid() {
		return nil
	}
	return r.raw.Fields
}

// Value returns the text value at (row, col). Typed decoding is a separate
// layer; this is the raw text the backend sent.
func (r *Result) Value(row, col int) string {
	if !r.valid() || row >= len(r.raw.Rows) || col >= len(r.raw.Rows[row]) {
		return ""
	}
	return r.raw.Rows[row][col]
}

// RowsAffected extracts the row count from the command tag.
func (r *Result) RowsAffected() uint64 {
	return parseRowsAffected(r.Tag())
}

// parseRowsAffected extracts the trailing count from tags like "SELECT 5",
// "INSERT 0 1", "UPDATE 10".
func parseRowsAffected(tag string) uint64 {
	var count uint64
	var place uint64
	inNumber := false

	for i := len(tag) - 1; i >= 0; i-- {
		c := tag[i]
		switch {
		case c >= '0' && c <= '9':
			if !inNumber {
				inNumber = true
				count = 0
				place = 1
			}
			count += uint64(c-'0') * place
			place *= 10
		case c == ' ':
			if inNumber {
				return count
			}
		default:
			if inNumber {
				return count
			}
			return 0
		}
	}
	if inNumber {
		return count
	}
	return 0
}
