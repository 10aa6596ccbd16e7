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

// Exec executes a query synchronously: one round-trip, the check-result
// gate, then a drain of pending notifications.
func (s *Session) Exec(query string) (*Result, error) {
	if s.drv == nil {
		return nil, &BrokenError{Reason: "could not execute query: connection is inactive"}
	}
	return s.dispatch(query, func() error {
		return s.drv.Send(query)
	})
}

// ExecParams executes a parameterized query. Parameters travel out-of-line
// (null flag, explicit bytes, text/binary flag each) and are never built
// into the query text.
func (s *Session) ExecParams(query string, args []pgwire.Param) (*Result, error) {
	if s.drv == nil {
		return nil, &BrokenError{Reason: "could not execute query: connection is inactive"}
	}
	return s.dispatch(query, func() error {
		return s.drv.SendParams(query, args)
	})
}

// ExecPrepared executes a named prepared statement with the given parameter
// vector. The statement must have been registered with Prepare.
func (s *Session) ExecPrepared(name string, args []pgwire.Param) (*Result, error) {
	if s.drv == nil {
		return nil, &BrokenError{Reason: "could not execute prepared statement: connection is inactive"}
	}
	return s.dispatch(name, func() error {
		return s.drv.SendPrepared(name, args)
	})
}

// Prepare registers a named prepared statement.
func (s *Session) Prepare(name, definition string) error {
	if s.drv == nil {
		return &BrokenError{Reason: "could not prepare statement: connection is inactive"}
	}
	_, err := s.dispatch("[PREPARE "+name+"]", func() error {
		return s.drv.SendPrepare(name, definition)
	})
	return err
}

// Unprepare deregisters a prepared statement via an ordinary deallocation
// round-trip.
func (s *Session) Unprepare(name string) error {
	quoted, err := s.QuoteName(name)
	if err != nil {
		return err
	}
	_, err = s.Exec("DEALLOCATE " + quoted)
	return err
}

// StartExec sends a query without waiting for its results, for pipelined or
// cooperative use. It fails immediately when the send could not be queued;
// results are retrieved with GetResult.
func (s *Session) StartExec(query string) error {
	if s.drv == nil {
		return &BrokenError{Reason: "can't execute query: connection is inactive"}
	}
	if err := s.drv.Send(query); err != nil {
		return &BackendError{Diag: s.ErrMsg()}
	}
	return nil
}

// GetResult polls the next raw protocol result of a statement started with
// StartExec, or nil when no more results are pending.
func (s *Session) GetResult() (*pgwire.RawResult, error) {
	if s.drv == nil {
		return nil, &BrokenError{}
	}
	return s.drv.PollResult()
}

// dispatch runs one complete round-trip: send, collect the final raw result,
// gate it through checkResult, and drain pending notifications. Every
// synchronous execution path funnels through here so the post-round-trip
// drain (and its suppression during transactions) lives in one place.
func (s *Session) dispatch(query string, send func() error) (*Result, error) {
	s.logger.Debug("round-trip", "session_id", s.id, "query", query)

	var last *pgwire.RawResult
	if err := send(); err == nil {
		for {
			raw, err := s.drv.PollResult()
			if err != nil || raw == nil {
				break
			}
			last = raw
			if raw.Status == pgwire.CopyOut || raw.Status == pgwire.CopyIn {
				// The backend switched to the copy sub-protocol. The
				// round-trip stays pending until the copy calls end the
				// stream, so polling further here would misread copy
				// frames as result traffic.
				break
			}
		}
	}

	r := s.makeResult(last, query)
	if err := s.checkResult(r); err != nil {
		return nil, err
	}
	if _, err := s.GetNotifications(); err != nil {
		return nil, err
	}
	return r, nil
}

// checkResult is the central correctness gate: every execution path routes
// its Result through here before returning it. A session that is not open
// fails broken-connection regardless of the result's own validity; a missing
// result object fails with the backend diagnostic; otherwise the result's
// own status decides.
func (s *Session) checkResult(r *Result) error {
	if !s.IsOpen() {
		return &BrokenError{}
	}
	if !r.valid() {
		return &BackendError{Diag: s.ErrMsg()}
	}
	return r.checkStatus()
}
