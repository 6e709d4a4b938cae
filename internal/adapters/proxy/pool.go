package proxy

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var (
	ErrInvalidProxy      = errors.New("invalid proxy")
	ErrUnsupportedScheme = errors.New("unsupported proxy scheme")
)

type Scheme string

const (
	SchemeHTTP   Scheme = "http"
	SchemeHTTPS  Scheme = "https"
	SchemeSOCKS5 Scheme = "socks5"
)

// Endpoint is immutable after ParseEndpoint.
type Endpoint struct {
	Scheme   Scheme
	Host     string
	Port     int
	Username string
	Password string
}

func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("%w: empty line", ErrInvalidProxy)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidProxy, err)
	}

	var scheme Scheme
	switch strings.ToLower(u.Scheme) {
	case "http":
		scheme = SchemeHTTP
	case "https":
		scheme = SchemeHTTPS
	case "socks5", "socks5h":
		scheme = SchemeSOCKS5
	default:
		return Endpoint{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: missing host", ErrInvalidProxy)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("%w: bad port %q", ErrInvalidProxy, u.Port())
	}

	ep := Endpoint{Scheme: scheme, Host: host, Port: port}
	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	return ep, nil
}

func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) URL() *url.URL {
	u := &url.URL{Scheme: string(e.Scheme), Host: e.Address()}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u
}

// Key identifies an endpoint inside an exclusion set.
// Key identifies an endpoint in a Tried set. Two credentials on one
// host:port are separate upstream sessions.
func (e Endpoint) Key() string {
	if e.Username != "" {
		return string(e.Scheme) + "://" + e.Username + "@" + e.Address()
	}
	return string(e.Scheme) + "://" + e.Address()
}

// String hides credentials so endpoints can be logged.
func (e Endpoint) String() string {
	if e.Username == "" {
		return e.Key()
	}
	return fmt.Sprintf("%s://%s:***@%s", e.Scheme, e.Username, e.Address())
}

func (e Endpoint) IsZero() bool { return e.Host == "" }

// Tried tracks the endpoints that failed during one account's attempts.
type Tried map[string]struct{}

func (t Tried) Add(e Endpoint) { t[e.Key()] = struct{}{} }

func (t Tried) Has(e Endpoint) bool {
	_, ok := t[e.Key()]
	return ok
}

// Pool is read-only after construction and safe for concurrent Select.
type Pool struct {
	endpoints []Endpoint
}

func NewPool(endpoints []Endpoint) *Pool {
	cp := make([]Endpoint, len(endpoints))
	copy(cp, endpoints)
	return &Pool{endpoints: cp}
}

// ParsePool parses every line and reports the ones that were skipped.
func ParsePool(lines []string) (*Pool, []error) {
	endpoints := make([]Endpoint, 0, len(lines))
	var errs []error
	for i, line := range lines {
		ep, err := ParseEndpoint(line)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", i+1, err))
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return NewPool(endpoints), errs
}

func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.endpoints)
}

// Select picks uniformly among endpoints not present in excluding.
func (p *Pool) Select(excluding Tried) (Endpoint, bool) {
	if p.Len() == 0 {
		return Endpoint{}, false
	}
	candidates := make([]Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if excluding != nil && excluding.Has(ep) {
			continue
		}
		candidates = append(candidates, ep)
	}
	if len(candidates) == 0 {
		return Endpoint{}, false
	}
	return candidates[rand.IntN(len(candidates))], true
}
