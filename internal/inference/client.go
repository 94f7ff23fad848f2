// Package inference talks to the two model services: prediction, which
// labels a plant image, and recommendation, which turns a label into care
// advice.  Both clients enforce a per-call timeout and sit behind a circuit
// breaker.
package inference

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds each upstream call.
const DefaultTimeout = 40 * time.Second

// maxResponseBytes caps how much of an upstream body is read.
const maxResponseBytes = 1 << 20

// StatusError is returned for a non-2xx upstream answer.
type StatusError struct {
	Service string
	Code    int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Service, e.Code)
}

// post sends body to url and returns the response body of a 2xx answer.
func post(ctx context.Context, hc *http.Client, service, url, contentType string, body []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", service, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", service, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Service: service, Code: resp.StatusCode}
	}
	return data, nil
}

func orDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultTimeout
	}
	return timeout
}
