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

// ErrorHandler receives normalized notice text from the backend. The session
// holds a non-owning reference: the caller keeps ownership and must
// unregister the handler before discarding it.
type ErrorHandler interface {
	// HandleNotice processes one notice. Returning false stops propagation
	// to the handlers registered before this one.
	HandleNotice(msg string) bool
}

// RegisterErrorHandler appends h to the chain. The driver's notice callback
// is wired into the chain only on the first registration; until then notices
// are suppressed. The lazy wiring keeps the callback from outliving a
// session whose handler list is already gone.
func (s *Session) RegisterErrorHandler(h ErrorHandler) error {
	if h == nil {
		return &ArgumentError{Reason: "null error handler registered"}
	}
	if len(s.handlers) == 0 && s.drv != nil {
		s.drv.SetNoticeCallback(s.ProcessNotice)
	}
	s.handlers = append(s.handlers, h)
	return nil
}

// UnregisterErrorHandler removes h from the chain by identity. When the
// chain becomes empty the driver's notice callback reverts to inert.
// Unknown handlers are ignored.
func (s *Session) UnregisterErrorHandler(h ErrorHandler) {
	for i, cur := range s.handlers {
		if cur == h {
			s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
			break
		}
	}
	if len(s.handlers) == 0 && s.drv != nil {
		s.drv.SetNoticeCallback(nil)
	}
}

// ErrorHandlers returns a snapshot of the chain in registration order.
func (s *Session) ErrorHandlers() []ErrorHandler {
	out := make([]ErrorHandler, len(s.handlers))
	copy(out, s.handlers)
	return out
}
