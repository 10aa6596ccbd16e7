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

import "time"

// The readiness waiter is advisory: it blocks until the transport descriptor
// looks ready for the requested direction or the timeout elapses, and
// reports no error on timeout. Callers retry the actual I/O operation and
// observe its own outcome.

// WaitRead blocks until the connection's descriptor is ready for reading.
func (s *Session) WaitRead() error {
	return s.wait(false, -1)
}

// WaitReadTimeout is WaitRead bounded by d.
func (s *Session) WaitReadTimeout(d time.Duration) error {
	return s.wait(false, d)
}

// WaitWrite blocks until the connection's descriptor is ready for writing.
func (s *Session) WaitWrite() error {
	return s.wait(true, -1)
}

// WaitWriteTimeout is WaitWrite bounded by d.
func (s *Session) WaitWriteTimeout(d time.Duration) error {
	return s.wait(true, d)
}

func (s *Session) wait(forWrite bool, timeout time.Duration) error {
	fd := s.Sock()
	if fd < 0 {
		return &BrokenError{}
	}
	// Poll failures are not reported: the caller uses the descriptor right
	// after this returns, so a broken descriptor surfaces there.
	waitFd(fd, forWrite, timeout)
	return nil
}
