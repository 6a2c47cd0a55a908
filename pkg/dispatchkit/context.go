package dispatchkit

import (
	"context"
	"log/slog"
	"maps"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/event"
)

// Context is what interceptors, filters and handlers receive.
// It extends context.Context with the event being published and state
// shared by every listener of that publish.
//
// One publish creates one set of state; it is never shared with other
// publishes. Each listener gets its own Context value whose embedded
// context.Context carries that listener's deadline and span.
type Context struct {
	context.Context

	state      *publishState
	logger     *slog.Logger
	listenerID string
}

// publishState is shared by every Context of one publish.
type publishState struct {
	event event.Event

	mu      sync.RWMutex
	attrs   map[string]any
	results []ListenerResult

	dataOnce sync.Once
	data     any
}

func newContext(ctx context.Context, evt event.Event, logger *slog.Logger) *Context {
	return &Context{
		Context: ctx,
		state:   &publishState{event: evt, attrs: make(map[string]any)},
		logger:  logger,
	}
}

// with returns a copy of c bound to ctx.
func (c *Context) with(ctx context.Context) *Context {
	cp := *c
	cp.Context = ctx
	return &cp
}

// forListener returns a copy of c for the listener id.
func (c *Context) forListener(ctx context.Context, id string) *Context {
	cp := *c
	cp.Context = ctx
	cp.listenerID = id
	cp.logger = c.logger.With(slog.String("listener_id", id))
	return &cp
}

// Event returns the event being published.
func (c *Context) Event() event.Event {
	return c.state.event
}

// Logger returns a logger enriched with the event and, inside a
// listener, the listener id. Never nil.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// ListenerID returns the current listener, or "" outside one.
func (c *Context) ListenerID() string {
	return c.listenerID
}

// Results returns a copy of the results collected so far.
func (c *Context) Results() []ListenerResult {
	c.state.mu.RLock()
	defer c.state.mu.RUnlock()
	out := make([]ListenerResult, len(c.state.results))
	copy(out, c.state.results)
	return out
}

func (c *Context) appendResult(r ListenerResult) {
	c.state.mu.Lock()
	c.state.results = append(c.state.results, r)
	c.state.mu.Unlock()
}

// Attr returns an attribute set earlier in this publish, typically by
// an interceptor.
func (c *Context) Attr(key string) (any, bool) {
	c.state.mu.RLock()
	defer c.state.mu.RUnlock()
	v, ok := c.state.attrs[key]
	return v, ok
}

// SetAttr stores an attribute visible to every later hook and listener
// of this publish.
func (c *Context) SetAttr(key string, v any) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	c.state.attrs[key] = v
}

// Vars exposes the publish as a variable map for filter expressions:
//
//	id, key, path, source, timestamp  event identity
//	data                              payload (structs become maps)
//	meta                              event metadata
//	attr                              attributes set so far
//	listener                          current listener id
func (c *Context) Vars() map[string]any {
	evt := c.state.event

	c.state.mu.RLock()
	attrs := maps.Clone(c.state.attrs)
	c.state.mu.RUnlock()

	return map[string]any{
		"id":        evt.ID(),
		"key":       evt.Key().Name(),
		"path":      evt.Key().Path(),
		"source":    evt.Source(),
		"timestamp": evt.Timestamp(),
		"data":      c.state.payload(),
		"meta":      evt.Metadata(),
		"attr":      attrs,
		"listener":  c.listenerID,
	}
}

// payload returns the event data in a form dotted paths can walk.
func (s *publishState) payload() any {
	s.dataOnce.Do(func() {
		data := s.event.Data()
		switch data.(type) {
		case nil, map[string]any, map[string]string, string, bool,
			int, int32, int64, uint, uint32, uint64, float32, float64:
			s.data = data
			return
		}
		b, err := sonic.ConfigStd.Marshal(data)
		if err != nil {
			s.data = data
			return
		}
		var v any
		if err := sonic.ConfigStd.Unmarshal(b, &v); err != nil {
			s.data = data
			return
		}
		s.data = v
	})
	return s.data
}
