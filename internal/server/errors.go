package server

import (
	"errors"
	"fmt"
	"time"
)

// NotFoundError reports a missing binary or model file.
type NotFoundError struct {
	What string // "server binary" or "model weights"
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found at %s", e.What, e.Path)
}

// IsNotFound reports whether err indicates a missing binary or model path.
func IsNotFound(err error) bool {
	var t *NotFoundError
	return errors.As(err, &t)
}

// AlreadyRunningError signals Start while a subprocess is still attached.
type AlreadyRunningError struct{ Port int }

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("server is already running on port %d", e.Port)
}

// IsAlreadyRunning reports whether err indicates a second Start without a Stop.
func IsAlreadyRunning(err error) bool {
	var t *AlreadyRunningError
	return errors.As(err, &t)
}

// NotRunningError signals an operation that needs an attached subprocess.
type NotRunningError struct{ Op string }

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("%s: server is not running", e.Op)
}

// IsNotRunning reports whether err indicates no subprocess is attached.
func IsNotRunning(err error) bool {
	var t *NotRunningError
	return errors.As(err, &t)
}

// ExitError reports that the subprocess terminated on its own.
type ExitError struct{ Code int }

func (e *ExitError) Error() string {
	return fmt.Sprintf("server exited unexpectedly with code %d", e.Code)
}

// IsUnexpectedExit reports whether err indicates the subprocess died on its own.
func IsUnexpectedExit(err error) bool {
	var t *ExitError
	return errors.As(err, &t)
}

// TimeoutError reports that a readiness deadline elapsed. Port is 0 when the
// wait was on the log marker rather than the network endpoint.
type TimeoutError struct {
	Port    int
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Port == 0 {
		return fmt.Sprintf("server did not start within %s", e.Elapsed)
	}
	return fmt.Sprintf("server did not start listening on port %d within %s", e.Port, e.Elapsed)
}

// IsTimeout reports whether err indicates a readiness deadline was exceeded.
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// HTTPStatusError reports an unexpected probe response that is neither a
// success nor the recognized still-loading status.
type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return "unexpected probe response: " + e.Status
}

// IsUnexpectedStatus reports whether err carries a non-2xx, non-503 probe status.
func IsUnexpectedStatus(err error) bool {
	var t *HTTPStatusError
	return errors.As(err, &t)
}
