package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPStatusError reports a retryable upstream status.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("resilience: upstream responded %d", e.StatusCode)
}

// HTTPClient wraps an http.Client with per-attempt timeouts, retries and an
// optional circuit breaker. 5xx responses and transport errors are retried;
// anything below 500 is returned to the caller as-is.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
}

// Do sends req, buffering its body so it can be replayed across attempts.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	policy := RetryPolicy{
		MaxAttempts: cl.MaxAttempts,
		Base:        cl.BaseBackoff,
		Jitter:      cl.Jitter,
		Retryable: func(err error) bool {
			return !errors.Is(err, ErrOpenCircuit) && !errors.Is(err, context.Canceled)
		},
	}
	err = Retry(ctx, policy, func(ctx context.Context, _ int) error {
		return cl.Breaker.Do(ctx, func(ctx context.Context) error {
			attempt := req.Clone(ctx)
			if body != nil {
				attempt.Body = io.NopCloser(bytes.NewReader(body))
			}
			r, err := cl.doOnce(ctx, attempt)
			if err != nil {
				return err
			}
			if r.StatusCode >= http.StatusInternalServerError {
				_, _ = io.Copy(io.Discard, r.Body)
				_ = r.Body.Close()
				return &HTTPStatusError{StatusCode: r.StatusCode}
			}
			resp = r
			return nil
		}, nil)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (cl HTTPClient) doOnce(ctx context.Context, req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		return cl.Client.Do(req)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	return data, nil
}
