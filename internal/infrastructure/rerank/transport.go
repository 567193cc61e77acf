package rerank

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// RetryTransport retries replayable requests on network errors and 5xx
// responses, waiting BaseDelay * 2^retry between attempts. Other responses
// pass through unchanged.
type RetryTransport struct {
	Base       http.RoundTripper
	MaxRetries int
	BaseDelay  time.Duration
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	ctx := req.Context()

	attemptReq := req
	for retry := 0; ; retry++ {
		resp, err := base.RoundTrip(attemptReq)
		if !isTransient(resp, err) || retry >= t.MaxRetries || ctx.Err() != nil {
			return resp, err
		}

		next, ok := rewind(req)
		if !ok {
			return resp, err
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
		}

		wait := t.BaseDelay * time.Duration(1<<retry)
		slog.Warn("rerank_retry",
			"url", req.URL.Redacted(),
			"retry", retry+1,
			"max_retries", t.MaxRetries,
			"status", status,
			"backoff_ms", float64(wait.Microseconds())/1000.0,
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		attemptReq = next
	}
}

func isTransient(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return resp != nil && resp.StatusCode >= 500
}

// rewind clones req with a fresh body for another attempt.
func rewind(req *http.Request) (*http.Request, bool) {
	next := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return next, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	next.Body = body
	return next, true
}
