package http

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrEmptyURL          = errors.New("url is empty")
	ErrUnsupportedScheme = errors.New("url does not use HTTP/HTTPS")
	// ErrUnsupportedRange is returned when a range was requested and the
	// server answered with the whole resource or a different range.
	ErrUnsupportedRange = errors.New("server did not honor the range request")
)

type ErrorType int

const (
	ErrorTypeNetwork ErrorType = iota
	ErrorTypeHTTP
	ErrorTypeValidation
	ErrorTypeTimeout
)

// HTTPError describes a single failed request.
type HTTPError struct {
	Type      ErrorType
	Operation string
	URL       string
	Status    int
	Err       error
}

func NewHTTPNetworkError(operation, url string, err error) *HTTPError {
	t := ErrorTypeNetwork
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		t = ErrorTypeTimeout
	}
	return &HTTPError{Type: t, Operation: operation, URL: url, Err: err}
}

func NewHTTPStatusError(operation, url string, status int) *HTTPError {
	return &HTTPError{
		Type:      ErrorTypeHTTP,
		Operation: operation,
		URL:       url,
		Status:    status,
		Err:       errors.New(http.StatusText(status)),
	}
}

func (e *HTTPError) Error() string {
	switch e.Type {
	case ErrorTypeHTTP:
		return fmt.Sprintf("HTTP error during %s for %s: status %d: %v",
			e.Operation, e.URL, e.Status, e.Err)
	case ErrorTypeNetwork:
		return fmt.Sprintf("network error during %s for %s: %v",
			e.Operation, e.URL, e.Err)
	case ErrorTypeTimeout:
		return fmt.Sprintf("timeout during %s for %s: %v",
			e.Operation, e.URL, e.Err)
	default:
		return fmt.Sprintf("error during %s for %s: %v",
			e.Operation, e.URL, e.Err)
	}
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the request may succeed.
func (e *HTTPError) Retryable() bool {
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	case ErrorTypeHTTP:
		return e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout || e.Status >= 500
	default:
		return false
	}
}

// ConnectError is returned when negotiation fails after the retry budget.
type ConnectError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// TransferError is a mid-stream read failure on an established connection.
type TransferError struct {
	URL    string
	Offset int64
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer from %s failed at offset %d: %v", e.URL, e.Offset, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsupportedRange) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	var transferErr *TransferError
	return errors.As(err, &transferErr)
}
