package gateway

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"mnemo/internal/core"
)

// apiStatusError is satisfied by each SDK's generated error type (all
// three vendor SDKs in this gateway expose a StatusCode this way).
type apiStatusError interface {
	error
	StatusCode() int
}

// classifyHTTPErr maps an arbitrary SDK error into the spec's retry
// taxonomy: network errors, 5xx, 429, and timeouts are retryable;
// other 4xx are not.
func classifyHTTPErr(component string, err error) error {
	if err == nil {
		return nil
	}
	status := 0
	var apiErr apiStatusError
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode()
	}
	var netErr net.Error
	retryable := false
	switch {
	case status == 0:
		retryable = errors.As(err, &netErr) || strings.Contains(err.Error(), "context deadline exceeded")
	case status >= 500:
		retryable = true
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status == 425:
		retryable = true
	default:
		retryable = false
	}
	return &core.TransientExternalError{Component: component, Retryable: retryable, Status: status, Cause: err}
}
