package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultIdleConnTimeout is how long an idle pooled connection is kept.
const DefaultIdleConnTimeout = 5 * time.Minute

// ClientOptions configures the shared transport of a run.
type ClientOptions struct {
	Timeout         time.Duration // whole-exchange timeout per request (0 means none)
	MaxConnsPerHost int           // 0 means unlimited
	IdleConnTimeout time.Duration // 0 means DefaultIdleConnTimeout
}

// RequestBuilder produces GET requests for one URL and Host header pair.
type RequestBuilder struct {
	target  string
	host    string
	headers http.Header
}

// NewRequestBuilder validates target, host and headers once so Build can run
// on every dispatch without re-checking them.
func NewRequestBuilder(target, host string, headers map[string]string) (*RequestBuilder, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("target URL is required")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("target URL %q must use http or https", target)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("target URL %q has no host", target)
	}

	host = strings.TrimSpace(host)
	if strings.ContainsAny(host, "\r\n /") {
		return nil, fmt.Errorf("invalid host header %q", host)
	}

	normalized := http.Header{}
	for key, value := range headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		if strings.ContainsAny(trimmedKey, "\r\n:") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if canonicalKey == "Host" {
			return nil, errors.New("host header must be set through the hosts list")
		}
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		normalized.Set(canonicalKey, value)
	}

	return &RequestBuilder{
		target:  target,
		host:    host,
		headers: normalized,
	}, nil
}

// Build creates a fresh request bound to ctx. The request never shares
// mutable state with earlier ones.
func (b *RequestBuilder) Build(ctx context.Context) (*http.Request, error) {
	if b == nil {
		return nil, errors.New("builder cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.target, nil)
	if err != nil {
		return nil, err
	}
	if len(b.headers) > 0 {
		req.Header = b.headers.Clone()
	}
	if b.host != "" {
		req.Host = b.host
	}
	return req, nil
}

func NewClient(opts ClientOptions) *http.Client {
	timeout := opts.Timeout
	if timeout < 0 {
		timeout = 0
	}
	maxConns := opts.MaxConnsPerHost
	if maxConns < 0 {
		maxConns = 0
	}
	idle := opts.IdleConnTimeout
	if idle <= 0 {
		idle = DefaultIdleConnTimeout
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	idlePerHost := 32
	if maxConns > 0 {
		idlePerHost = maxConns
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   idlePerHost,
		MaxConnsPerHost:       maxConns,
		IdleConnTimeout:       idle,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
