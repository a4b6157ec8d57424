// Package probe issues HTTP requests against robust-mode targets.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultMaxBody = 256 << 10
	userAgent      = "vibecheck-probe/1.0"
)

// Response is a captured target response. Body is cut at the prober's limit.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	URL    string
	Method string
}

// Requester is what agents and the reachability check depend on.
type Requester interface {
	Request(ctx context.Context, baseURL, method, path string, opts ...Option) (*Response, error)
}

// Prober does not follow redirects so agents see the target's own answer.
type Prober struct {
	client  *http.Client
	maxBody int64
}

func New(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBody: DefaultMaxBody,
	}
}

type requestOptions struct {
	header http.Header
}

type Option func(*requestOptions)

func WithHeader(key, value string) Option {
	return func(o *requestOptions) { o.header.Set(key, value) }
}

// Join resolves path against baseURL, keeping any base path prefix.
func Join(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = ""
	return u.String(), nil
}

func (p *Prober) Request(ctx context.Context, baseURL, method, path string, opts ...Option) (*Response, error) {
	o := requestOptions{header: http.Header{}}
	for _, opt := range opts {
		opt(&o)
	}
	target, err := Join(baseURL, path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range o.header {
		req.Header[k] = v
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, target, err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data, URL: target, Method: method}, nil
}

// Reachable issues GET / and treats any HTTP answer as reachable.
func Reachable(ctx context.Context, r Requester, baseURL string) error {
	_, err := r.Request(ctx, baseURL, http.MethodGet, "/")
	return err
}
