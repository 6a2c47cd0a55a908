package dispatchkit_test

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/event"
	"github.com/stretchr/testify/require"
)

var (
	messageKey = event.NewKey("message", nil)
	groupKey   = event.NewKey("group_message", messageKey)
	noticeKey  = event.NewKey("notice", nil)
)

type message struct {
	Text string `json:"text"`
	User string `json:"user"`
}

func newMessage(text string) *event.Base[message] {
	return event.New(messageKey, message{Text: text, User: "ann"},
		event.WithSource("test"), event.WithMetadata("user", "ann"))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDispatcher(opts ...dispatchkit.Option) *dispatchkit.Dispatcher {
	return dispatchkit.New(append([]dispatchkit.Option{dispatchkit.WithLogger(quietLogger())}, opts...)...)
}

// trail records the order listeners and hooks run in.
type trail struct {
	mu    sync.Mutex
	steps []string
}

func (tr *trail) add(step string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.steps = append(tr.steps, step)
}

func (tr *trail) get() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.steps...)
}

// returning registers a listener that records its id and returns r.
func returning(t *testing.T, d *dispatchkit.Dispatcher, tr *trail, priority int, id string, r dispatchkit.Result, opts ...dispatchkit.ListenerOption) {
	t.Helper()
	opts = append(opts, dispatchkit.WithListenerID(id))
	_, err := d.RegisterFunc(priority, nil, func(*dispatchkit.Context) (dispatchkit.Result, error) {
		tr.add(id)
		return r, nil
	}, opts...)
	require.NoError(t, err)
}

func resultIDs(agg *dispatchkit.AggregateResult) []string {
	ids := make([]string, 0, len(agg.Results))
	for _, r := range agg.Results {
		ids = append(ids, r.ListenerID)
	}
	return ids
}
