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

//go:build unix

package session

import (
	"time"

	"golang.org/x/sys/unix"
)

// waitFd blocks until fd is ready for the requested direction or the timeout
// elapses. timeout < 0 waits indefinitely.
func waitFd(fd int, forWrite bool, timeout time.Duration) {
	events := int16(unix.POLLERR | unix.POLLHUP | unix.POLLNVAL)
	if forWrite {
		events |= unix.POLLOUT
	} else {
		events |= unix.POLLIN
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}

	pfd := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		_, err := unix.Poll(pfd, ms)
		if err != unix.EINTR {
			return
		}
	}
}
