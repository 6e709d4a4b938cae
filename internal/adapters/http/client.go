package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	netproxy "golang.org/x/net/proxy"

	"github.com/ohmynofan/paws-community-bot/internal/adapters/proxy"
	"github.com/ohmynofan/paws-community-bot/internal/domain/model"
	"github.com/ohmynofan/paws-community-bot/internal/platform/logger"
	"github.com/ohmynofan/paws-community-bot/pkg/utils"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"
	defaultTimeout   = 30 * time.Second
)

type FetchOptions struct {
	Method            string
	Body              interface{}
	RawBody           []byte
	AdditionalHeaders map[string]string
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

type ClientOptions struct {
	Proxy     proxy.Endpoint
	UserAgent string
	Headers   map[string]string
	// Timeout bounds a single attempt.
	Timeout time.Duration
}

// APIClient is one logical HTTP session: one bound proxy, one header set and
// at most one bearer token. It is owned by a single account.
type APIClient struct {
	UserAgent  string
	HTTPClient *http.Client
	Log        *logger.ClassLogger

	mu      sync.RWMutex
	proxy   proxy.Endpoint
	token   string
	headers map[string]string
	timeout time.Duration
}

func NewAPIClient(opts ClientOptions, session *model.Session) (*APIClient, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	apiClient := &APIClient{
		UserAgent:  opts.UserAgent,
		HTTPClient: &http.Client{Timeout: opts.Timeout},
		headers:    headers,
		timeout:    opts.Timeout,
	}
	apiClient.Log = logger.NewLogger(apiClient, session)

	if err := apiClient.Bind(opts.Proxy); err != nil {
		return nil, err
	}
	return apiClient, nil
}

// Bind rebuilds the transport so that subsequent requests leave through ep.
// A zero endpoint means a direct connection.
func (c *APIClient) Bind(ep proxy.Endpoint) error {
	transport, err := newTransport(ep)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.HTTPClient.Transport
	c.HTTPClient = &http.Client{Transport: transport, Timeout: c.timeout}
	c.proxy = ep
	c.mu.Unlock()

	if t, ok := old.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

func newTransport(ep proxy.Endpoint) (*http.Transport, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	if ep.IsZero() {
		return transport, nil
	}

	switch ep.Scheme {
	case proxy.SchemeHTTP, proxy.SchemeHTTPS:
		transport.Proxy = http.ProxyURL(ep.URL())
	case proxy.SchemeSOCKS5:
		var auth *netproxy.Auth
		if ep.Username != "" {
			auth = &netproxy.Auth{User: ep.Username, Password: ep.Password}
		}
		dialer, err := netproxy.SOCKS5("tcp", ep.Address(), auth, &net.Dialer{Timeout: 15 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer for %s: %w", ep, err)
		}
		ctxDialer, ok := dialer.(netproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer for %s does not support contexts", ep)
		}
		transport.DialContext = ctxDialer.DialContext
	default:
		return nil, fmt.Errorf("%w: %s", proxy.ErrUnsupportedScheme, ep.Scheme)
	}
	return transport, nil
}

func (c *APIClient) Proxy() proxy.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.proxy
}

func (c *APIClient) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

func (c *APIClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *APIClient) Close() {
	c.mu.RLock()
	client := c.HTTPClient
	c.mu.RUnlock()
	client.CloseIdleConnections()
}

func (c *APIClient) generateHeaders() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	headers := map[string]string{
		"Accept":       "application/json",
		"Content-Type": "application/json",
		"User-Agent":   c.UserAgent,
	}
	for k, v := range c.headers {
		headers[k] = v
	}
	if token := c.token; token != "" {
		if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = "Bearer " + token
		}
		headers["Authorization"] = token
	}
	return headers
}

// Fetch issues exactly one request. Non-2xx answers and transport failures
// come back as *RequestError.
func (c *APIClient) Fetch(ctx context.Context, endpoint string, opts *FetchOptions) (*Response, error) {
	if opts == nil {
		opts = &FetchOptions{}
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	if opts.RawBody != nil && opts.Body != nil {
		return nil, fmt.Errorf("cannot specify both Body and RawBody")
	}

	var bodyBytes []byte
	hasBody := opts.RawBody != nil || (method != http.MethodGet && opts.Body != nil)
	if hasBody {
		if opts.RawBody != nil {
			bodyBytes = opts.RawBody
		} else {
			encoded, err := json.Marshal(opts.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			bodyBytes = encoded
		}
	}

	var reqBody io.Reader
	if hasBody {
		reqBody = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.generateHeaders() {
		req.Header.Set(key, value)
	}
	for key, value := range opts.AdditionalHeaders {
		req.Header.Set(key, value)
	}
	if !hasBody {
		req.Header.Del("Content-Type")
	}

	if hasBody {
		c.Log.JustLog(fmt.Sprintf("%s %s\nBody:\n%s", method, endpoint, utils.BeautifyJSON(bodyBytes)))
	} else {
		c.Log.JustLog(fmt.Sprintf("%s %s", method, endpoint))
	}

	c.mu.RLock()
	client := c.HTTPClient
	c.mu.RUnlock()

	res, err := client.Do(req)
	if err != nil {
		return nil, ClassifyTransport(ctx, err)
	}
	defer res.Body.Close()

	resBodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, ClassifyTransport(ctx, fmt.Errorf("failed to read response body: %w", err))
	}

	c.Log.JustLog(fmt.Sprintf("Response %d Body:\n%s", res.StatusCode, utils.BeautifyJSON(resBodyBytes)))

	if re := ClassifyStatus(res.StatusCode, res.Status, resBodyBytes); re != nil {
		return nil, re
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: resBodyBytes}, nil
}
