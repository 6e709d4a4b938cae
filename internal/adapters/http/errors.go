package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
)

// Kind is the retry classification of a failed request. It is decided once,
// where the transport error or status code is observed.
type Kind int

const (
	KindUnknown Kind = iota
	KindRetryable
	KindRateLimited
	KindUnauthorized
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

func (k Kind) Retryable() bool {
	return k == KindRetryable || k == KindRateLimited || k == KindMalformed
}

var ErrAttemptsExhausted = errors.New("attempts exhausted")

type RequestError struct {
	Kind       Kind
	StatusCode int
	Status     string
	Body       []byte
	Err        error
	// ConnLevel marks failures of the network path itself (dial, proxy,
	// reset, DNS, timeout) as opposed to an HTTP answer.
	ConnLevel bool
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		body := strings.TrimSpace(string(e.Body))
		if len(body) > 200 {
			body = body[:200]
		}
		if e.Err != nil {
			return fmt.Sprintf("HTTP Error %d (%s): %v", e.StatusCode, e.Kind, e.Err)
		}
		return fmt.Sprintf("HTTP Error %d (%s): %s", e.StatusCode, e.Kind, body)
	}
	if e.Err != nil {
		return fmt.Sprintf("request error (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("request error (%s)", e.Kind)
}

func (e *RequestError) Unwrap() error { return e.Err }

func KindOf(err error) Kind {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Kind == kind
}

// StatusOf returns the HTTP status carried by err, or 0 for transport
// failures and foreign errors.
func StatusOf(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// ClassifyStatus returns nil for 2xx answers.
func ClassifyStatus(statusCode int, status string, body []byte) *RequestError {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	re := &RequestError{StatusCode: statusCode, Status: status, Body: body}
	lower := strings.ToLower(string(body))

	switch {
	case statusCode == http.StatusTooManyRequests,
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "too many requests"):
		re.Kind = KindRateLimited
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		re.Kind = KindUnauthorized
	case statusCode >= 500, statusCode == http.StatusRequestTimeout:
		re.Kind = KindRetryable
	default:
		re.Kind = KindUnknown
	}
	return re
}

// ClassifyTransport maps an error returned by http.Client.Do. Cancellation of
// the caller's context is terminal; everything else on the network path is
// retryable and marked as connection level.
func ClassifyTransport(ctx context.Context, err error) *RequestError {
	if err == nil {
		return nil
	}
	if ctx != nil && ctx.Err() != nil {
		return &RequestError{Kind: KindUnknown, Err: err}
	}

	re := &RequestError{Kind: KindRetryable, Err: err, ConnLevel: true}

	var (
		dnsErr *net.DNSError
		opErr  *net.OpError
		netErr net.Error
		urlErr *url.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
	case errors.As(err, &dnsErr):
	case errors.As(err, &opErr):
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
	case errors.As(err, &netErr) && netErr.Timeout():
	case errors.As(err, &urlErr):
		// proxy CONNECT refusals surface as plain errors wrapped in url.Error
	default:
		re.Kind = KindUnknown
		re.ConnLevel = false
	}
	return re
}
