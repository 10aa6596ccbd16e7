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

package client

import (
	"context"

	"github.com/pqsession/pqsession/go/pgwire"
)

// Policy connects eagerly: StartConnect dials and completes the startup
// handshake before returning. It implements pgwire.ConnectPolicy.
type Policy struct {
	config *Config
}

var _ pgwire.ConnectPolicy = (*Policy)(nil)

// NewPolicy creates a connect policy that dials with the given config.
func NewPolicy(config *Config) *Policy {
	return &Policy{config: config}
}

// StartConnect returns the current handle if one exists, otherwise dials a
// new connection.
func (p *Policy) StartConnect(current pgwire.Driver) (pgwire.Driver, error) {
	if current != nil {
		return current, nil
	}
	conn, err := Connect(context.Background(), p.config)
	if err != nil {
		// The caller keeps whatever handle it had, which is none.
		return nil, err
	}
	return conn, nil
}

// IsReady reports whether the handle is usable. A direct policy's handle is
// ready as soon as StartConnect produced it.
func (p *Policy) IsReady(d pgwire.Driver) bool {
	return d != nil
}

// Disconnect closes the handle and returns its replacement, which for a
// direct policy is always nil. A nil handle is tolerated.
func (p *Policy) Disconnect(d pgwire.Driver) pgwire.Driver {
	if d != nil {
		d.Close()
	}
	return nil
}
