package dispatchkit

import (
	"context"

	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/correlation"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/event"
)

// SessionHandler delivers events to callers waiting on a correlation
// key, such as a listener that asked a user a question and waits for
// the reply.
//
//	sessions := dispatchkit.NewSessionHandler(scope, func(c *dispatchkit.Context) (string, bool) {
//	    return c.Event().Metadata()["user"], true
//	}, dispatchkit.ConsumeDelivered())
//	d.Register(-100, nil, sessions)
//
//	// inside another listener:
//	reply, err := sessions.Await(c, userID, correlation.WithTimeout(time.Minute))
//
// Register it at a low priority so waiting sessions see events before
// ordinary listeners.
type SessionHandler[K comparable] struct {
	scope   *correlation.Scope[K, event.Event]
	key     func(c *Context) (K, bool)
	consume bool
}

// SessionOption configures a SessionHandler.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	consume bool
}

// ConsumeDelivered makes the handler return Break after delivering an
// event, so no later listener sees it.
func ConsumeDelivered() SessionOption {
	return func(c *sessionConfig) { c.consume = true }
}

// NewSessionHandler creates a handler that pushes each event to the
// waiter holding key(c). Events for which key reports false pass
// through.
func NewSessionHandler[K comparable](scope *correlation.Scope[K, event.Event], key func(c *Context) (K, bool), opts ...SessionOption) *SessionHandler[K] {
	var cfg sessionConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &SessionHandler[K]{scope: scope, key: key, consume: cfg.consume}
}

// Handle implements Handler.
func (h *SessionHandler[K]) Handle(c *Context) (Result, error) {
	k, ok := h.key(c)
	if !ok {
		return Continue(), nil
	}
	if !h.scope.Push(k, c.Event()) {
		return Continue(), nil
	}
	if h.consume {
		return BreakWith(k), nil
	}
	return Value(k), nil
}

// Await waits for the next event delivered for key. See
// correlation.Scope.Wait for the failure modes.
func (h *SessionHandler[K]) Await(ctx context.Context, key K, opts ...correlation.WaitOption) (event.Event, error) {
	return h.scope.Wait(ctx, key, opts...)
}

// Scope returns the underlying correlation scope.
func (h *SessionHandler[K]) Scope() *correlation.Scope[K, event.Event] {
	return h.scope
}
