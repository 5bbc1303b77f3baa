package dav

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// HTTPClient performs HTTP requests. It's implemented by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClientWithBasicAuth returns an HTTP client that authenticates all
// outgoing requests with HTTP basic authentication.
func HTTPClientWithBasicAuth(c HTTPClient, username, password string) HTTPClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &basicAuthHTTPClient{c, username, password}
}

type basicAuthHTTPClient struct {
	c                  HTTPClient
	username, password string
}

func (c *basicAuthHTTPClient) Do(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(c.username, c.password)
	return c.c.Do(req)
}

// Client is a low-level DAV client bound to a single endpoint.
type Client struct {
	http      HTTPClient
	endpoint  *url.URL
	userAgent string
}

func NewClient(c HTTPClient, endpoint, userAgent string) (*Client, error) {
	if c == nil {
		c = http.DefaultClient
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if u.Path == "" {
		// This is important to avoid issues with path.Join
		u.Path = "/"
	}
	return &Client{http: c, endpoint: u, userAgent: userAgent}, nil
}

// ResolveHref resolves a path against the client's endpoint.
func (c *Client) ResolveHref(p string) *url.URL {
	if p == "" {
		// The endpoint itself, keeping its trailing slash.
		p = c.endpoint.Path
	} else if !strings.HasPrefix(p, "/") {
		p = path.Join(c.endpoint.Path, p)
	}
	return &url.URL{
		Scheme: c.endpoint.Scheme,
		User:   c.endpoint.User,
		Host:   c.endpoint.Host,
		Path:   p,
	}
}

func (c *Client) NewRequest(ctx context.Context, method string, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.ResolveHref(path).String(), body)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

func (c *Client) NewXMLRequest(ctx context.Context, method string, path string, body string) (*http.Request, error) {
	req, err := c.NewRequest(ctx, method, path, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	return req, nil
}

// Do performs the request and turns non-2xx responses into an *HTTPError,
// reading a bounded amount of the error body for context.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "text/plain"
		}

		var wrappedErr error
		t, _, _ := mime.ParseMediaType(contentType)
		if strings.HasPrefix(t, "text/") || t == "application/xml" {
			lr := io.LimitedReader{R: resp.Body, N: 1024}
			var buf bytes.Buffer
			io.Copy(&buf, &lr)
			if s := strings.TrimSpace(buf.String()); s != "" {
				if lr.N == 0 {
					s += " […]"
				}
				wrappedErr = fmt.Errorf("%v", s)
			}
		}
		return nil, &HTTPError{Code: resp.StatusCode, Err: wrappedErr}
	}
	return resp, nil
}

// DoMultiStatus performs the request and decodes a 207 Multi-Status
// response body.
func (c *Client) DoMultiStatus(req *http.Request) (*MultiStatus, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		return nil, fmt.Errorf("dav: expected multi-status response, got %v", resp.Status)
	}

	var ms MultiStatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("dav: failed to decode multi-status response: %w", err)
	}

	return &ms, nil
}

// PropFind performs a PROPFIND request with the given literal body.
func (c *Client) PropFind(ctx context.Context, path string, depth Depth, body string) (*MultiStatus, error) {
	req, err := c.NewXMLRequest(ctx, "PROPFIND", path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Depth", depth.String())

	return c.DoMultiStatus(req)
}
