package server

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Probe pacing. Vars so tests can shrink them.
var (
	probeInterval       = 500 * time.Millisecond
	probeRequestTimeout = 1 * time.Second
)

// waitForReady polls GET baseURL until the subprocess answers, a non-loading
// error status arrives, or the deadline elapses. Connection errors mean the
// socket is not accepting yet and 503 means the model is still loading; both
// keep the poll going. This network probe is the authoritative readiness
// signal: the log marker can print before the socket accepts.
func waitForReady(ctx context.Context, client *http.Client, baseURL string, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return &TimeoutError{Port: port, Elapsed: timeout}
		}
		rctx, cancel := context.WithTimeout(ctx, probeRequestTimeout)
		req, err := http.NewRequestWithContext(rctx, http.MethodGet, baseURL, nil)
		if err != nil {
			cancel()
			return err
		}
		resp, err := client.Do(req)
		cancel()
		if err == nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return nil
			case resp.StatusCode == http.StatusServiceUnavailable:
				// still loading the model
			default:
				return &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(probeInterval):
		}
	}
}
