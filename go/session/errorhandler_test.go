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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterErrorHandlerRejectsNil(t *testing.T) {
	s := openSession(newFakeDriver())
	assert.ErrorIs(t, s.RegisterErrorHandler(nil), ErrArgument)
}

func TestErrorHandlerLazyWiring(t *testing.T) {
	f := newFakeDriver()
	s := openSession(f)

	// Activation leaves the driver callback inert.
	require.Nil(t, f.noticeFn)

	h1 := &recordingHandler{}
	h2 := &recordingHandler{}
	require.NoError(t, s.RegisterErrorHandler(h1))
	require.NotNil(t, f.noticeFn)

	require.NoError(t, s.RegisterErrorHandler(h2))
	require.NotNil(t, f.noticeFn)

	// The driver-side callback routes into the chain.
	f.noticeFn("NOTICE:  from the wire\n")
	assert.Equal(t, []string{"NOTICE:  from the wire\n"}, h2.notices)

	s.UnregisterErrorHandler(h2)
	require.NotNil(t, f.noticeFn)

	// Last handler gone: delivery reverts to suppressed.
	s.UnregisterErrorHandler(h1)
	assert.Nil(t, f.noticeFn)
}

func TestUnregisterUnknownHandlerIgnored(t *testing.T) {
	s := openSession(newFakeDriver())
	h := &recordingHandler{}
	require.NoError(t, s.RegisterErrorHandler(h))

	s.UnregisterErrorHandler(&recordingHandler{})
	assert.Len(t, s.ErrorHandlers(), 1)
}

func TestErrorHandlersSnapshot(t *testing.T) {
	s := openSession(newFakeDriver())
	h1 := &recordingHandler{}
	h2 := &recordingHandler{}
	require.NoError(t, s.RegisterErrorHandler(h1))
	require.NoError(t, s.RegisterErrorHandler(h2))

	snapshot := s.ErrorHandlers()
	require.Len(t, snapshot, 2)
	assert.Same(t, ErrorHandler(h1), snapshot[0])
	assert.Same(t, ErrorHandler(h2), snapshot[1])

	// Mutating the snapshot leaves the chain alone.
	snapshot[0] = nil
	assert.Same(t, ErrorHandler(h1), s.ErrorHandlers()[0])
}
