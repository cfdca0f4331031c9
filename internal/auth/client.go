package auth

import (
	"context"
	"io"
	"net/http"

	"github.com/Guizzs26/shop-sync/internal/syncerr"
)

// Authorizer decorates outgoing requests with credentials. force asks for a
// fresh credential after the previous one was rejected.
type Authorizer interface {
	Authorize(ctx context.Context, req *http.Request, force bool) error
}

// RequestFunc builds a fresh request for every attempt so bodies can be resent
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Client sends authorized requests and retries exactly once after a 401
type Client struct {
	http *http.Client
	auth Authorizer
}

func NewClient(httpClient *http.Client, a Authorizer) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if a == nil {
		a = None{}
	}
	return &Client{http: httpClient, auth: a}
}

// Do sends the request built by newReq. On 401 it re-authorizes with force
// and resends once; the second response is returned as is, 401 included.
func (c *Client) Do(ctx context.Context, newReq RequestFunc) (*http.Response, error) {
	resp, err := c.send(ctx, newReq, false)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drainAndClose(resp.Body)

	return c.send(ctx, newReq, true)
}

func (c *Client) send(ctx context.Context, newReq RequestFunc, force bool) (*http.Response, error) {
	req, err := newReq(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.auth.Authorize(ctx, req, force); err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &syncerr.TransportError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	return resp, nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
