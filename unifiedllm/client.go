package unifiedllm

import (
	"context"
	"fmt"
	"strings"
)

// Middleware wraps a provider call. It receives the request and a next function
// that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// Client sends every request to one provider adapter through a fixed
// middleware chain. The first middleware is the outermost.
type Client struct {
	adapter ProviderAdapter
	handler func(context.Context, Request) (*Response, error)
}

// NewClient builds the chain around adapter once.
func NewClient(adapter ProviderAdapter, middleware ...Middleware) *Client {
	handler := adapter.Complete
	for i := len(middleware) - 1; i >= 0; i-- {
		mw, next := middleware[i], handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}
	return &Client{adapter: adapter, handler: handler}
}

// Provider returns the adapter's provider name.
func (c *Client) Provider() string { return c.adapter.Name() }

// Complete stamps the provider on req and sends it down the chain. A request
// addressed to a different provider is rejected before any call is made.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	name := c.adapter.Name()
	switch {
	case req.Provider == "":
		req.Provider = name
	case !strings.EqualFold(req.Provider, name):
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("request for provider %q sent to a %q client", req.Provider, name),
		}}
	}
	return c.handler(ctx, req)
}
