package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrClosed is returned by Fetch after the session has been closed.
	ErrClosed = errors.New("session closed")
	// ErrUnknownDriver is returned for an unsupported session driver name.
	ErrUnknownDriver = errors.New("unknown session driver")
	// ErrNoSession is returned when an opener yields neither a session nor an error.
	ErrNoSession = errors.New("opener returned no session")
)

// Error reports that the browsing capability could not be acquired.
type Error struct {
	Driver string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("browsing session (%s) could not start: %v", e.Driver, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FetchError reports a failed page request.
type FetchError struct {
	URL        string
	StatusCode int
	// Temporary marks network, timeout and 5xx/429 failures worth retrying.
	Temporary bool
	Err       error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTemporary reports whether err is a FetchError worth retrying.
func IsTemporary(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Temporary
}

// newFetchError classifies err and status into a FetchError.
func newFetchError(url string, status int, err error) *FetchError {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	return &FetchError{
		URL:        url,
		StatusCode: status,
		Temporary:  isTransient(status, err),
		Err:        err,
	}
}

var transientPatterns = []string{
	"connection refused", "connection reset", "temporary failure", "eof",
	"broken pipe", "no such host", "i/o timeout", "timeout", "timed out",
	"net::err_",
}

func isTransient(status int, err error) bool {
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return true
	}
	if status >= http.StatusBadRequest {
		return false
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
