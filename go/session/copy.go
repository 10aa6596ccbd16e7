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

import "fmt"

// endCopyQuery tags the results drained after a copy stream ends.
const endCopyQuery = "[END COPY]"

// ReadCopyLine fetches one line of bulk copy output. It returns the line and
// true while data is available. When the stream ends it drains every
// trailing raw result through the check-result gate and returns false; a
// backend error on any of those results surfaces from here.
//
// Only valid while a copy-out operation is in progress on the backend.
func (s *Session) ReadCopyLine() (string, bool, error) {
	if !s.IsOpen() {
		return "", false, &InternalError{Reason: "ReadCopyLine without connection"}
	}

	buf, n := s.drv.CopyGetLine()
	switch {
	case n == -2:
		return "", false, &BackendError{Diag: "reading of table data failed: " + s.ErrMsg()}

	case n == -1:
		for {
			raw, err := s.drv.PollResult()
			if err != nil || raw == nil {
				break
			}
			if cerr := s.checkResult(s.makeResult(raw, endCopyQuery)); cerr != nil {
				return "", false, cerr
			}
		}
		return "", false, nil

	case n == 0:
		// Never reached in strictly synchronous mode; getting here means a
		// protocol-contract violation, not an operational failure.
		return "", false, &InternalError{Reason: "table read inexplicably went asynchronous"}

	default:
		// Copy out of the driver's buffer; the line must not alias driver
		// state after return.
		return string(buf[:n]), true, nil
	}
}

// WriteCopyLine sends one line of bulk copy input, appending a newline when
// the line is not already newline-terminated. On failure it signals
// end-of-copy to the backend first, best effort, so the backend's copy state
// does not wedge.
func (s *Session) WriteCopyLine(line string) error {
	if !s.IsOpen() {
		return &InternalError{Reason: "WriteCopyLine without connection"}
	}

	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}

	if s.drv.CopyPutLine([]byte(line)) <= 0 {
		msg := "error writing to table: " + s.ErrMsg()
		s.drv.CopyEnd()
		return &BackendError{Diag: msg}
	}
	return nil
}

// EndCopyWrite signals end-of-copy-data and validates the final result:
// copy completion is itself reported as a normal result, so it still goes
// through the check-result gate.
func (s *Session) EndCopyWrite() error {
	if !s.IsOpen() {
		return &InternalError{Reason: "EndCopyWrite without connection"}
	}

	switch res := s.drv.CopyEnd(); res {
	case -1:
		return &BackendError{Diag: "write to table failed: " + s.ErrMsg()}
	case 0:
		return &InternalError{Reason: "table write is inexplicably asynchronous"}
	case 1:
		// Normal termination. Retrieve the result object.
	default:
		return &InternalError{Reason: fmt.Sprintf("unexpected result %d from copy end", res)}
	}

	// Copy completion is reported as a normal result, followed by the
	// round-trip's own termination. Drain all of it so the session is
	// ready for the next round-trip, gating each result on the way.
	for {
		raw, err := s.drv.PollResult()
		if err != nil {
			return &BackendError{Diag: s.ErrMsg()}
		}
		if raw == nil {
			return nil
		}
		if cerr := s.checkResult(s.makeResult(raw, endCopyQuery)); cerr != nil {
			return cerr
		}
	}
}
