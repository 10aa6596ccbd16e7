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

const (
	// noticeSizeLimit is the longest notice delivered in one piece. Anything
	// longer takes the chunked fallback, which guarantees forward progress
	// for arbitrarily long messages at the cost of fragmentation.
	noticeSizeLimit = 64 * 1024

	// noticeChunkSize is the payload size of each fallback chunk.
	noticeChunkSize = 999

	// noticeChunkMark is appended to every full chunk so readers can see the
	// message was split. Chunk boundaries are byte-oriented and may split a
	// multi-byte character.
	noticeChunkMark = "[...]\n"
)

// ProcessNotice normalizes a raw out-of-band message from the backend and
// delivers it to the error-handler chain. The delivered message always ends
// in a newline. This is the driver's notice-callback entry point: it runs on
// a path that does not tolerate failure, so it never fails outward.
//
// Empty input does nothing. Messages over noticeSizeLimit are delivered as
// fixed-size chunks, each full chunk terminated with noticeChunkMark; the
// chunks, with markers removed, reassemble to the original message.
func (s *Session) ProcessNotice(msg string) {
	if msg == "" {
		return
	}

	if len(msg) <= noticeSizeLimit {
		if msg[len(msg)-1] == '\n' {
			s.processNoticeRaw(msg)
		} else {
			s.processNoticeRaw(msg + "\n")
		}
		return
	}

	// Chunked fallback. Every chunk but the last fills noticeChunkSize
	// bytes exactly.
	written := 0
	for ; written+noticeChunkSize < len(msg); written += noticeChunkSize {
		s.processNoticeRaw(msg[written:written+noticeChunkSize] + noticeChunkMark)
	}
	rest := msg[written:]
	if rest[len(rest)-1] != '\n' {
		rest += "\n"
	}
	s.processNoticeRaw(rest)
}

// processNoticeRaw walks the error-handler chain, most recently registered
// first. A handler returning false stops propagation for this message.
func (s *Session) processNoticeRaw(msg string) {
	if msg == "" {
		return
	}
	for i := len(s.handlers) - 1; i >= 0; i-- {
		if !s.handlers[i].HandleNotice(msg) {
			return
		}
	}
}
