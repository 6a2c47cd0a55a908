package dispatchkit_test

import (
	"context"
	"testing"
	"time"

	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/correlation"
	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func byUser(c *dispatchkit.Context) (string, bool) {
	user, ok := c.Event().Metadata()["user"]
	return user, ok
}

func TestSessionHandler_DeliversToWaiter(t *testing.T) {
	tests := []struct {
		name    string
		opts    []dispatchkit.SessionOption
		broken  bool
		reached []string
	}{
		{"pass through", nil, false, []string{"downstream"}},
		{"consume", []dispatchkit.SessionOption{dispatchkit.ConsumeDelivered()}, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDispatcher()
			tr := &trail{}
			sessions := dispatchkit.NewSessionHandler(correlation.NewScope[string, event.Event](), byUser, tt.opts...)

			_, err := d.Register(-100, nil, sessions, dispatchkit.WithListenerID("sessions"))
			require.NoError(t, err)
			returning(t, d, tr, 0, "downstream", dispatchkit.Continue())

			got := make(chan event.Event, 1)
			go func() {
				evt, err := sessions.Await(context.Background(), "ann", correlation.WithTimeout(time.Second))
				assert.NoError(t, err)
				got <- evt
			}()
			require.Eventually(t, func() bool { return sessions.Scope().Has("ann") }, time.Second, time.Millisecond)

			reply := newMessage("yes")
			agg, err := d.Publish(context.Background(), reply)
			require.NoError(t, err)

			assert.Same(t, reply, <-got)
			assert.Equal(t, tt.broken, agg.Broken)
			assert.Equal(t, tt.reached, tr.get())
			require.NotEmpty(t, agg.Results)
			assert.Equal(t, "ann", agg.Results[0].Payload())
		})
	}
}

func TestSessionHandler_NoWaiterContinues(t *testing.T) {
	d := newDispatcher()
	tr := &trail{}
	sessions := dispatchkit.NewSessionHandler(correlation.NewScope[string, event.Event](), byUser, dispatchkit.ConsumeDelivered())
	_, err := d.Register(-100, nil, sessions)
	require.NoError(t, err)
	returning(t, d, tr, 0, "downstream", dispatchkit.Continue())

	agg, err := d.Publish(context.Background(), newMessage("hello"))
	require.NoError(t, err)
	assert.False(t, agg.Broken)
	assert.Equal(t, []string{"downstream"}, tr.get())

	_, err = d.Publish(context.Background(), event.New(noticeKey, "no user"))
	require.NoError(t, err)
	assert.Equal(t, []string{"downstream", "downstream"}, tr.get())
}

// A listener that asks a question and waits for the answer in the same
// dispatcher, while the answer arrives through a separate publish.
func TestSessionHandler_ConversationFromListener(t *testing.T) {
	d := newDispatcher()
	sessions := dispatchkit.NewSessionHandler(correlation.NewScope[string, event.Event](), byUser, dispatchkit.ConsumeDelivered())
	_, err := d.Register(-100, nil, sessions)
	require.NoError(t, err)

	_, err = d.RegisterFunc(0, dispatchkit.MatchAll(dispatchkit.MustExpr(`data.text == "!ask"`)),
		func(c *dispatchkit.Context) (dispatchkit.Result, error) {
			reply, err := sessions.Await(c, "ann", correlation.WithTimeout(time.Second))
			if err != nil {
				return dispatchkit.Continue(), err
			}
			return dispatchkit.Value(reply.Data().(message).Text), nil
		})
	require.NoError(t, err)

	task := d.PublishAsync(context.Background(), newMessage("!ask"))
	require.Eventually(t, func() bool { return sessions.Scope().Has("ann") }, time.Second, time.Millisecond)

	agg, err := d.Publish(context.Background(), newMessage("blue"))
	require.NoError(t, err)
	assert.True(t, agg.Broken, "the reply is consumed by the session")

	asked, err := task.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"blue"}, asked.Values())
}

func TestSessionHandler_DuplicateWait(t *testing.T) {
	sessions := dispatchkit.NewSessionHandler(correlation.NewScope[string, event.Event](), byUser)

	done := make(chan error, 1)
	go func() {
		_, err := sessions.Await(context.Background(), "ann", correlation.WithTimeout(50*time.Millisecond))
		done <- err
	}()
	require.Eventually(t, func() bool { return sessions.Scope().Has("ann") }, time.Second, time.Millisecond)

	_, err := sessions.Await(context.Background(), "ann")
	assert.ErrorIs(t, err, dkerrors.ErrDuplicateKey)
	assert.ErrorIs(t, <-done, dkerrors.ErrTimeout)
}
