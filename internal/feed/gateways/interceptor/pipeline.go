// Package interceptor is the explicit interception layer in front of the
// network. Requests pass through an ordered list of guards before reaching
// the real transport; each guard either answers the request itself or falls
// through to the next one.
package interceptor

import (
	"errors"
	"net/http"
	"sync"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/log"
)

// ErrNilResponse is returned when a guard yields neither a response nor an error.
var ErrNilResponse = errors.New("interceptor: guard returned no response")

// Next continues the pipeline with the following guard or the transport.
type Next func(*http.Request) (*http.Response, error)

// Guard is one composable interception predicate. Implementations must check
// their own condition and call next when it does not apply.
type Guard interface {
	Name() string
	Intercept(req *http.Request, next Next) (*http.Response, error)
}

// GuardFunc adapts a function to Guard.
type GuardFunc struct {
	Label string
	Fn    func(req *http.Request, next Next) (*http.Response, error)
}

func (g GuardFunc) Name() string { return g.Label }

func (g GuardFunc) Intercept(req *http.Request, next Next) (*http.Response, error) {
	return g.Fn(req, next)
}

// Pipeline is an ordered guard chain ending in a base transport. It is an
// http.RoundTripper, so anything built on net/http can be routed through it.
type Pipeline struct {
	base http.RoundTripper

	mu     sync.RWMutex
	guards []Guard
}

// New builds a pipeline over base (http.DefaultTransport when nil).
func New(base http.RoundTripper, guards ...Guard) *Pipeline {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Pipeline{base: base, guards: append([]Guard(nil), guards...)}
}

// Use appends a guard. Existing guards are unaffected.
func (p *Pipeline) Use(g Guard) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guards = append(p.guards, g)
}

// Guards returns the names of the installed guards, in order.
func (p *Pipeline) Guards() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.guards))
	for i, g := range p.guards {
		names[i] = g.Name()
	}
	return names
}

// RoundTrip is the streaming (fetch-style) surface.
func (p *Pipeline) RoundTrip(req *http.Request) (*http.Response, error) {
	p.mu.RLock()
	guards := append([]Guard(nil), p.guards...)
	p.mu.RUnlock()

	var step func(i int) Next
	step = func(i int) Next {
		if i == len(guards) {
			return p.base.RoundTrip
		}
		return func(r *http.Request) (*http.Response, error) {
			resp, err := guards[i].Intercept(r, step(i+1))
			if err == nil && resp == nil {
				log.Warn(map[string]any{"guard": guards[i].Name()}, "guard returned no response")
				return nil, ErrNilResponse
			}
			return resp, err
		}
	}
	return step(0)(req)
}

// Client returns an http.Client whose transport is the pipeline.
func (p *Pipeline) Client() *http.Client {
	return &http.Client{Transport: p}
}

// Send is the callback-style (XHR-like) surface. The request runs through the
// same guards asynchronously and done is called exactly once, on another
// goroutine, with the outcome.
func (p *Pipeline) Send(req *http.Request, done func(*http.Response, error)) {
	go func() {
		resp, err := p.RoundTrip(req)
		done(resp, err)
	}()
}
