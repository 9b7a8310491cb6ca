// Package backend holds the HTTP clients for the speech services.
//
// Each client takes the service base URL per call so the caller can route
// through whichever instance the registry reports healthy. All clients share
// one *http.Client; per-call deadlines come from the request context.
package backend

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrUpstreamStatus marks a non-2xx response from a speech service.
// Use errors.Is against it and errors.As with *StatusError for the detail.
var ErrUpstreamStatus = errors.New("unexpected upstream status")

type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUpstreamStatus }

// maxErrorBodyBytes bounds how much of an upstream error body is kept for
// the error message.
const maxErrorBodyBytes = 2048

func statusError(service string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &StatusError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
