// Package dispatchkit is an in-process event bus for bot and agent
// frameworks.
//
// Adapters publish typed events; listeners registered with a priority,
// an optional filter and optional interceptors consume them. Each
// publish walks the listeners in ascending priority (FIFO within a
// tie) and aggregates one Result per invoked listener.
//
// # Registration
//
//	d := dispatchkit.New(dispatchkit.WithLogger(logger))
//	h, err := d.RegisterFunc(10, nil, func(c *dispatchkit.Context) (dispatchkit.Result, error) {
//	    msg := c.Event().Data().(Message)
//	    return dispatchkit.Value(msg.Text), nil
//	}, dispatchkit.ForKeys(MessageKey))
//	defer h.Dispose()
//
// Handles are idempotent and may be disposed while publishes are in
// flight; once Dispose returns, no later invocation reaches the handler.
// RegisterWeak ties a registration to the lifetime of an owner value.
//
// # Results
//
// A handler returns Continue, Break, BreakWith, Value or Error. Break
// stops the walk; the aggregate keeps everything collected so far,
// including the Break. Handler errors and panics never escape a publish:
// they become Error results, are logged, and are reported to the error
// sink. A fatal policy (WithFatalKinds, WithFatalPolicy) turns selected
// failures into an aborted publish.
//
// # Calling conventions
//
//	agg, err := d.Publish(ctx, evt)                      // blocks on ctx
//	agg, err = d.PublishBlocking(evt, time.Second)       // bounded, cancels on timeout
//	task := d.PublishAsync(ctx, evt)                     // future
//	err = d.PublishAndForget(ctx, evt)                   // errors go to the sink
//	stream := d.PublishStream(ctx, evt)                  // one result per listener
//
// Cancelling any of them cancels the publish context, which releases
// correlation waits made with it. See package correlation and
// SessionHandler for waiting on a later event from inside a listener.
package dispatchkit
