// Package dispatch places outbound calls on the configured backends.
package dispatch

import (
	"context"
	"errors"

	"survey-caller/internal/calls"
)

var (
	ErrNoCapacity    = errors.New("dispatch: no capacity for backend")
	ErrNotConfigured = errors.New("dispatch: backend not configured")
)

// Request is what a backend needs to place one call.
type Request struct {
	CallID      int64
	PhoneNumber string
	Questions   []string
	ContextText string
}

// Result carries the references the backend assigned.
// Any field may be empty; the conversation reference often arrives later by webhook.
type Result struct {
	ProviderRef     string
	ConversationRef string
	SessionArtifact string
}

// Dispatcher starts a call on one backend. StartCall must honour ctx.
type Dispatcher interface {
	Backend() calls.Backend
	StartCall(ctx context.Context, req Request) (Result, error)
}

// Registry maps backends to dispatchers.
type Registry map[calls.Backend]Dispatcher

func NewRegistry(ds ...Dispatcher) Registry {
	r := Registry{}
	for _, d := range ds {
		if d != nil {
			r[d.Backend()] = d
		}
	}
	return r
}

func (r Registry) Get(b calls.Backend) (Dispatcher, bool) {
	d, ok := r[b]
	return d, ok
}

// Has reports whether b is configured.
func (r Registry) Has(b calls.Backend) bool {
	_, ok := r[b]
	return ok
}
