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
	"errors"
	"time"
)

// Receiver consumes push notifications for one channel. The session holds a
// non-owning reference; callers must remove a receiver before discarding it.
// Multiple receivers may share a channel.
type Receiver interface {
	// Channel returns the notification channel this receiver listens on.
	Channel() string

	// Notify delivers one notification. A returned error is reported
	// through the notice processor and never stops dispatch to other
	// receivers.
	Notify(payload string, backendPID int) error
}

// AddReceiver registers r. The first receiver for a channel issues a single
// LISTEN round-trip; later receivers for the same channel are recorded
// without touching the backend. A broken connection during the LISTEN is
// tolerated: the subscription is still recorded locally so that setUpState
// can replay it on a fresh handle.
func (s *Session) AddReceiver(r Receiver) error {
	if r == nil {
		return &ArgumentError{Reason: "null receiver registered"}
	}

	ch := r.Channel()
	if _, listening := s.receivers[ch]; !listening {
		if s.IsOpen() {
			quoted, err := s.QuoteName(ch)
			if err != nil {
				return err
			}
			if _, err := s.Exec("LISTEN " + quoted); err != nil && !errors.Is(err, ErrBroken) {
				return err
			}
		}
	}
	s.receivers[ch] = append(s.receivers[ch], r)
	return nil
}

// RemoveReceiver unregisters r. Removing an unknown receiver produces a
// notice, not an error. The registry entry is erased before any round-trip
// is issued, so an in-flight notification can never reach a just-removed
// receiver; UNLISTEN is sent only when r was the channel's last receiver.
// RemoveReceiver never fails: round-trip problems are reported through the
// notice processor.
func (s *Session) RemoveReceiver(r Receiver) {
	if r == nil {
		return
	}

	ch := r.Channel()
	list := s.receivers[ch]
	idx := -1
	for i, cur := range list {
		if cur == r {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.ProcessNotice("Attempt to remove unknown receiver '" + ch + "'")
		return
	}

	// Erase first; otherwise a notification for the same receiver may yet
	// come in between the round-trip and the removal.
	gone := s.drv != nil && len(list) == 1
	if len(list) == 1 {
		delete(s.receivers, ch)
	} else {
		s.receivers[ch] = append(list[:idx], list[idx+1:]...)
	}

	if gone {
		quoted, err := s.QuoteName(ch)
		if err != nil {
			s.ProcessNotice(err.Error())
			return
		}
		if _, err := s.Exec("UNLISTEN " + quoted); err != nil {
			s.ProcessNotice(err.Error())
		}
	}
}

// GetNotifications drains every pending notification from the transport in
// one pass and dispatches each to all receivers registered for its channel.
// It returns the number of notifications processed, not the number of
// receiver invocations.
//
// Returns 0 without touching receivers when the session is not open, and —
// because interleaving push notifications with transactional results is
// unsafe — whenever a transaction is registered, even if notifications are
// already queued. Fails with a broken-connection error when the transport
// cannot consume pending input.
func (s *Session) GetNotifications() (int, error) {
	if !s.IsOpen() {
		return 0, nil
	}

	if !s.drv.ConsumeInput() {
		return 0, &BrokenError{}
	}

	// Even if notifications arrive during a transaction, don't deliver them.
	if s.txn != nil {
		return 0, nil
	}

	notifs := 0
	for n := s.drv.FetchNotification(); n != nil; n = s.drv.FetchNotification() {
		notifs++
		for _, r := range s.receivers[n.Channel] {
			if err := r.Notify(n.Payload, n.BackendPID); err != nil {
				s.reportReceiverError(n.Channel, err)
			}
		}
	}
	return notifs, nil
}

// reportReceiverError routes a receiver failure into the notice processor,
// degrading to a fixed message when even that reporting path fails.
func (s *Session) reportReceiverError(channel string, err error) {
	defer func() {
		if recover() != nil {
			s.ProcessNotice("Error in notification receiver, and also failed to report it\n")
		}
	}()
	s.ProcessNotice("Error in notification receiver '" + channel + "': " + err.Error() + "\n")
}

// AwaitNotification waits for at least one notification to arrive, blocking
// on the socket only when nothing is already pending, and returns the number
// of notifications processed.
func (s *Session) AwaitNotification() (int, error) {
	return s.awaitNotification(func() error { return s.WaitRead() })
}

// AwaitNotificationTimeout is AwaitNotification with a bounded wait. A
// timeout is not an error: the result is simply 0.
func (s *Session) AwaitNotificationTimeout(d time.Duration) (int, error) {
	return s.awaitNotification(func() error { return s.WaitReadTimeout(d) })
}

func (s *Session) awaitNotification(wait func() error) (int, error) {
	if s.drv == nil {
		return 0, &BrokenError{Reason: "can't wait for notifications: connection is not active"}
	}
	notifs, err := s.GetNotifications()
	if err != nil || notifs != 0 {
		return notifs, err
	}
	if err := wait(); err != nil {
		return 0, err
	}
	return s.GetNotifications()
}
