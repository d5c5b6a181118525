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
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Kind is the taxonomy of backend failures from §7. The Dispatcher maps
// each Kind to exactly one HTTP status; backends never choose the status
// code directly, they choose the Kind.
type Kind int

const (
	// KindNotFound covers a missing static file or a FastCGI script that
	// does not exist on the upstream's filesystem.
	KindNotFound Kind = iota
	// KindForbidden covers a static path-escape attempt (§4.3 step 2-4).
	KindForbidden
	// KindRangeNotSatisfiable covers a Range request outside the file's bounds.
	KindRangeNotSatisfiable
	// KindPayloadTooLarge covers a body over max_body_size. The core never
	// produces this itself (enforced before the core, per §7), but the
	// Kind exists so a front end can route an early rejection through the
	// same mapping table.
	KindPayloadTooLarge
	// KindBadGateway covers FastCGI protocol violations or an upstream
	// reset mid-request.
	KindBadGateway
	// KindGatewayTimeout covers FastCGI connect/acquire/read timeouts.
	KindGatewayTimeout
	// KindServiceUnavailable covers an open circuit, a worker pool that
	// isn't ready yet, or a saturated job queue.
	KindServiceUnavailable
	// KindInternal covers I/O failures, PHP fatals, and codec bugs.
	KindInternal
)

// httpStatus is the Kind -> status mapping table from §7.
var httpStatus = map[Kind]int{
	KindNotFound:            http.StatusNotFound,
	KindForbidden:           http.StatusForbidden,
	KindRangeNotSatisfiable: http.StatusRequestedRangeNotSatisfiable,
	KindPayloadTooLarge:     http.StatusRequestEntityTooLarge,
	KindBadGateway:          http.StatusBadGateway,
	KindGatewayTimeout:      http.StatusGatewayTimeout,
	KindServiceUnavailable:  http.StatusServiceUnavailable,
	KindInternal:            http.StatusInternalServerError,
}

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindRangeNotSatisfiable:
		return "range_not_satisfiable"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindBadGateway:
		return "bad_gateway"
	case KindGatewayTimeout:
		return "gateway_timeout"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// BackendError is the typed error every Backend.Handle returns on failure.
// It mirrors caddyhttp.HandlerError: a status-bearing error with an opaque
// ID for correlating a log line with what was returned to the caller.
type BackendError struct {
	Kind Kind
	Err  error
	ID   string
}

// Error satisfies the error interface.
func (e BackendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("{id=%s} %s", e.ID, e.Kind)
	}
	return fmt.Sprintf("{id=%s} %s: %v", e.ID, e.Kind, e.Err)
}

// Unwrap returns the underlying error, if any.
func (e BackendError) Unwrap() error { return e.Err }

// Status returns the HTTP status this error maps to.
func (e BackendError) Status() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// NewBackendError wraps err as a BackendError of the given Kind, generating
// a correlation ID. If err is already a BackendError, its Kind and ID are
// reused so repeated wrapping (e.g. a pool error bubbling through the
// FastCGI backend) doesn't stomp on the original classification.
func NewBackendError(kind Kind, err error) BackendError {
	var be BackendError
	if errors.As(err, &be) {
		if be.ID == "" {
			be.ID = newErrorID()
		}
		return be
	}
	return BackendError{Kind: kind, Err: err, ID: newErrorID()}
}

func newErrorID() string {
	return uuid.NewString()[:8]
}
