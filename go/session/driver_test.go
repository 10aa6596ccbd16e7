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
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pqsession/pqsession/go/pgwire"
)

// fakeDriver is a scripted, recording pgwire.Driver. Round-trips pop
// result scripts from the front of scripted; an unscripted round-trip
// yields a single CommandOK result.
type fakeDriver struct {
	status        pgwire.Status
	backendPID    int
	protoVersion  int
	serverVersion int
	errMsg        string
	encoding      string
	descriptor    int

	// Recorded traffic.
	queries  []string
	prepared map[string]string
	params   map[string][]pgwire.Param
	copyPut  [][]byte

	scripted [][]*pgwire.RawResult
	current  []*pgwire.RawResult

	sendErr    error
	consumeErr bool

	// failAfterSend flips the status to bad as soon as a query goes out,
	// simulating a connection that dies mid round-trip.
	failAfterSend bool

	notifications []*pgwire.Notification
	noticeFn      func(string)

	// copyGet scripts CopyGetLine: each entry is a data block (code is its
	// length) or a bare code for nil blocks.
	copyGet     []copyBlock
	copyPutCode int
	copyEndCode int

	closed    bool
	cancelled bool
}

type copyBlock struct {
	data []byte
	code int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		status:        pgwire.StatusOK,
		backendPID:    4242,
		protoVersion:  3,
		serverVersion: 160004,
		encoding:      "UTF8",
		descriptor:    7,
		prepared:      make(map[string]string),
		params:        make(map[string][]pgwire.Param),
		copyPutCode:   1,
		copyEndCode:   1,
	}
}

// script appends one round-trip's results.
func (f *fakeDriver) script(results ...*pgwire.RawResult) {
	f.scripted = append(f.scripted, results)
}

func (f *fakeDriver) beginRoundTrip() {
	if len(f.scripted) > 0 {
		f.current = f.scripted[0]
		f.scripted = f.scripted[1:]
		return
	}
	f.current = []*pgwire.RawResult{{Status: pgwire.CommandOK, Tag: "OK"}}
}

func (f *fakeDriver) Status() pgwire.Status { return f.status }
func (f *fakeDriver) BackendPID() int       { return f.backendPID }
func (f *fakeDriver) ProtocolVersion() int  { return f.protoVersion }
func (f *fakeDriver) ServerVersion() int    { return f.serverVersion }
func (f *fakeDriver) ErrorMessage() string  { return f.errMsg }
func (f *fakeDriver) Descriptor() int       { return f.descriptor }

func (f *fakeDriver) Send(query string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.queries = append(f.queries, query)
	f.beginRoundTrip()
	if f.failAfterSend {
		f.status = pgwire.StatusBad
	}
	return nil
}

func (f *fakeDriver) SendParams(query string, params []pgwire.Param) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.queries = append(f.queries, query)
	f.params[query] = params
	f.beginRoundTrip()
	return nil
}

func (f *fakeDriver) SendPrepared(name string, params []pgwire.Param) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	if _, ok := f.prepared[name]; !ok {
		f.errMsg = fmt.Sprintf("prepared statement %q does not exist", name)
		return fmt.Errorf("%s", f.errMsg)
	}
	f.queries = append(f.queries, "[EXECUTE "+name+"]")
	f.params[name] = params
	f.beginRoundTrip()
	return nil
}

func (f *fakeDriver) SendPrepare(name, query string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.prepared[name] = query
	f.queries = append(f.queries, "[PREPARE "+name+"]")
	f.beginRoundTrip()
	return nil
}

func (f *fakeDriver) PollResult() (*pgwire.RawResult, error) {
	if len(f.current) == 0 {
		return nil, nil
	}
	r := f.current[0]
	f.current = f.current[1:]
	return r, nil
}

func (f *fakeDriver) ConsumeInput() bool { return !f.consumeErr }

func (f *fakeDriver) FetchNotification() *pgwire.Notification {
	if len(f.notifications) == 0 {
		return nil
	}
	n := f.notifications[0]
	f.notifications = f.notifications[1:]
	return n
}

func (f *fakeDriver) EscapeString(s string) (string, error) {
	if strings.ContainsRune(s, 0) {
		return "", fmt.Errorf("string contains a NUL byte")
	}
	return strings.ReplaceAll(s, "'", "''"), nil
}

func (f *fakeDriver) EscapeBytes(b []byte) string {
	return `\x` + hex.EncodeToString(b)
}

func (f *fakeDriver) UnescapeBytes(s string) ([]byte, error) {
	if !strings.HasPrefix(s, `\x`) {
		return nil, fmt.Errorf("not a hex bytea")
	}
	return hex.DecodeString(s[2:])
}

func (f *fakeDriver) EscapeIdentifier(s string) (string, error) {
	if strings.ContainsRune(s, 0) {
		return "", fmt.Errorf("identifier contains a NUL byte")
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`, nil
}

func (f *fakeDriver) ClientEncoding() (string, error) { return f.encoding, nil }

func (f *fakeDriver) SetClientEncoding(name string) error {
	f.encoding = name
	return nil
}

func (f *fakeDriver) SetNoticeCallback(fn func(msg string)) { f.noticeFn = fn }

func (f *fakeDriver) CopyGetLine() ([]byte, int) {
	if len(f.copyGet) == 0 {
		return nil, -2
	}
	b := f.copyGet[0]
	f.copyGet = f.copyGet[1:]
	return b.data, b.code
}

func (f *fakeDriver) CopyPutLine(b []byte) int {
	if f.copyPutCode <= 0 {
		return f.copyPutCode
	}
	f.copyPut = append(f.copyPut, append([]byte(nil), b...))
	return f.copyPutCode
}

func (f *fakeDriver) CopyEnd() int {
	// The trailing result of a copy round-trip is scripted like any other.
	f.beginRoundTrip()
	return f.copyEndCode
}

func (f *fakeDriver) Cancel() error {
	f.cancelled = true
	return nil
}

func (f *fakeDriver) Close() { f.closed = true }

var _ pgwire.Driver = (*fakeDriver)(nil)

// fakePolicy hands out a fixed driver and records teardown.
type fakePolicy struct {
	drv          pgwire.Driver
	startErr     error
	disconnected int
}

func (p *fakePolicy) StartConnect(current pgwire.Driver) (pgwire.Driver, error) {
	if p.startErr != nil {
		return current, p.startErr
	}
	if current != nil {
		return current, nil
	}
	return p.drv, nil
}

func (p *fakePolicy) IsReady(d pgwire.Driver) bool { return d != nil }

func (p *fakePolicy) Disconnect(d pgwire.Driver) pgwire.Driver {
	p.disconnected++
	if d != nil {
		d.Close()
	}
	return nil
}

var _ pgwire.ConnectPolicy = (*fakePolicy)(nil)

// openSession activates a session over the given fake driver.
func openSession(f *fakeDriver) *Session {
	s := New(&fakePolicy{drv: f})
	if err := s.Init(); err != nil {
		panic(err)
	}
	return s
}
