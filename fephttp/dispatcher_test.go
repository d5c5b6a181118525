// Copyright 2024 The fe-php Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fephttp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver BackendID

func (s staticResolver) Resolve(string) BackendID { return BackendID(s) }

func TestDispatcherRoutesToResolvedBackend(t *testing.T) {
	var called BackendID
	backends := map[BackendID]Backend{
		BackendStatic: BackendFunc(func(ctx context.Context, req *Request) (*Response, error) {
			called = BackendStatic
			return NewResponse(200), nil
		}),
	}
	d := NewDispatcher(staticResolver(BackendStatic), backends, nil)

	resp, err := d.Dispatch(context.Background(), &Request{Path: "/x"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, BackendStatic, called)
}

func TestDispatcherUnwiredBackendIsInternalError(t *testing.T) {
	d := NewDispatcher(staticResolver(BackendEmbedded), map[BackendID]Backend{}, nil)

	_, err := d.Dispatch(context.Background(), &Request{Path: "/x"})
	require.Error(t, err)

	var be BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, KindInternal, be.Kind)
}

func TestDispatcherDoesNotRetryAcrossBackends(t *testing.T) {
	calls := 0
	backends := map[BackendID]Backend{
		BackendFastCGI: BackendFunc(func(ctx context.Context, req *Request) (*Response, error) {
			calls++
			return nil, NewBackendError(KindBadGateway, errors.New("upstream reset"))
		}),
	}
	d := NewDispatcher(staticResolver(BackendFastCGI), backends, nil)

	_, err := d.Dispatch(context.Background(), &Request{Path: "/u.php"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var be BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, KindBadGateway, be.Kind)
	assert.Equal(t, 502, be.Status())
}

type closingBackend struct {
	closed bool
}

func (c *closingBackend) Handle(ctx context.Context, req *Request) (*Response, error) {
	return NewResponse(200), nil
}

func (c *closingBackend) Close() error {
	c.closed = true
	return nil
}

func TestDispatcherCloseClosesOnlyBackendsThatImplementCloser(t *testing.T) {
	cb := &closingBackend{}
	backends := map[BackendID]Backend{
		BackendFastCGI: cb,
		BackendStatic: BackendFunc(func(ctx context.Context, req *Request) (*Response, error) {
			return NewResponse(200), nil
		}),
	}
	d := NewDispatcher(staticResolver(BackendStatic), backends, nil)

	require.NoError(t, d.Close(context.Background()))
	assert.True(t, cb.closed)
}
