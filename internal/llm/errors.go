package llm

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	ErrorTimeout    ErrorKind = "timeout"
	ErrorAuth       ErrorKind = "auth"
	ErrorNetwork    ErrorKind = "network"
	ErrorValidation ErrorKind = "validation"
	ErrorInternal   ErrorKind = "internal"
)

// ClassifiedError carries the kind a failure was classified as.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify wraps err with its kind. A nil error stays nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return err
	}
	return &ClassifiedError{Kind: ClassifyError(err), Err: err}
}

// ClassifyError maps an error to one of the error kinds.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorInternal
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}

	if kind, ok := statusKind(err); ok {
		return kind
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	var urlErr *url.Error
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) || errors.As(err, &urlErr) {
		return ErrorNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return ErrorTimeout
	case strings.Contains(msg, "auth") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key"):
		return ErrorAuth
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return ErrorNetwork
	case strings.Contains(msg, "validation"):
		return ErrorValidation
	}
	return ErrorInternal
}

func statusKind(err error) (ErrorKind, bool) {
	status := 0
	var anthropicErr *anthropic.Error
	var openaiErr *openai.Error
	switch {
	case errors.As(err, &anthropicErr):
		status = anthropicErr.StatusCode
	case errors.As(err, &openaiErr):
		status = openaiErr.StatusCode
	default:
		return "", false
	}
	switch {
	case status == 401 || status == 403:
		return ErrorAuth, true
	case status == 400 || status == 404 || status == 422:
		return ErrorValidation, true
	case status == 408 || status == 504:
		return ErrorTimeout, true
	case status == 0:
		return "", false
	}
	return ErrorInternal, true
}

// IsRetryable reports whether a failure of this kind is retried while
// attempts remain. Every kind is, except auth unless retryAuth is set.
func (k ErrorKind) IsRetryable(retryAuth bool) bool {
	if k == ErrorAuth {
		return retryAuth
	}
	return true
}
