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

//go:build !unix

package session

import "time"

// waitFd on platforms without poll(2): sleep out the timeout. The wait is
// advisory, so over-waiting only costs latency, never correctness.
func waitFd(fd int, forWrite bool, timeout time.Duration) {
	if timeout < 0 {
		timeout = 10 * time.Millisecond
	}
	time.Sleep(timeout)
}
