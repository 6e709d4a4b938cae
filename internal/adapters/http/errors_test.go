package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		code int
		body string
		want Kind
	}{
		{429, "", KindRateLimited},
		{500, "rate limit exceeded", KindRateLimited},
		{401, "", KindUnauthorized},
		{403, "", KindUnauthorized},
		{400, `{"message":"Invalid recaptcha token"}`, KindUnknown},
		{502, "", KindRetryable},
		{503, "maintenance", KindRetryable},
		{404, "not found", KindUnknown},
	}
	for _, tc := range cases {
		re := ClassifyStatus(tc.code, "", []byte(tc.body))
		if re == nil || re.Kind != tc.want {
			t.Errorf("ClassifyStatus(%d, %q) = %v, want %s", tc.code, tc.body, re, tc.want)
		}
	}
	if got := StatusOf(fmt.Errorf("wrapped: %w", ClassifyStatus(403, "", nil))); got != 403 {
		t.Errorf("StatusOf = %d, want 403", got)
	}
	if got := StatusOf(errors.New("plain")); got != 0 {
		t.Errorf("StatusOf on a foreign error = %d, want 0", got)
	}
	if re := ClassifyStatus(201, "", nil); re != nil {
		t.Errorf("2xx must not be classified as an error, got %v", re)
	}
}

func TestClassifyTransport(t *testing.T) {
	refused := &url.Error{Op: "Post", URL: "http://x", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}
	re := ClassifyTransport(context.Background(), refused)
	if re.Kind != KindRetryable || !re.ConnLevel {
		t.Errorf("dial failure should be connection-level retryable, got %+v", re)
	}

	dns := &net.DNSError{Err: "no such host", Name: "api.invalid"}
	if re := ClassifyTransport(context.Background(), dns); re.Kind != KindRetryable {
		t.Errorf("DNS failure should be retryable, got %s", re.Kind)
	}

	if re := ClassifyTransport(context.Background(), context.DeadlineExceeded); re.Kind != KindRetryable {
		t.Errorf("timeout should be retryable, got %s", re.Kind)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if re := ClassifyTransport(ctx, refused); re.Kind.Retryable() {
		t.Errorf("cancelled caller context must be terminal, got %s", re.Kind)
	}

	if re := ClassifyTransport(context.Background(), errors.New("boom")); re.Kind != KindUnknown {
		t.Errorf("unrecognised error should be unknown, got %s", re.Kind)
	}
}
