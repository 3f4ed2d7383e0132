package session

import (
	"io"
	"sync"

	"prepai/internal/api"
	"prepai/internal/config"
)

// Context carries the caller's credential and logout hook to the components
// that talk to the remote interviewer. It replaces ambient auth state: create
// one per signed-in user and Close it on logout or shutdown.
type Context struct {
	tokens         api.TokenSource
	onUnauthorized func()

	mu      sync.Mutex
	expired bool
	closed  bool
}

// NewContext creates a context. onUnauthorized runs on the first rejection of
// the credential; it runs again only after the remote has accepted a request
// in between, for instance once a reloaded token file took effect.
func NewContext(tokens api.TokenSource, onUnauthorized func()) *Context {
	return &Context{tokens: tokens, onUnauthorized: onUnauthorized}
}

// Tokens returns the credential source.
func (c *Context) Tokens() api.TokenSource {
	return c.tokens
}

// Expired reports whether the remote has rejected the credential.
func (c *Context) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

func (c *Context) unauthorized() {
	c.mu.Lock()
	first := !c.expired
	c.expired = true
	c.mu.Unlock()

	if first && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

func (c *Context) authorized() {
	c.mu.Lock()
	c.expired = false
	c.mu.Unlock()
}

// NewClient builds an API client bound to this context.
func (c *Context) NewClient(cfg config.APIConfig, opts ...api.Option) *api.Client {
	opts = append(opts, api.WithUnauthorizedHandler(c.unauthorized), api.WithAuthorizedHandler(c.authorized))
	return api.NewClient(cfg, c.tokens, opts...)
}

// Close releases the token source if it holds resources.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if closer, ok := c.tokens.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
