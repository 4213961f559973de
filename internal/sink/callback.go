package sink

import "context"

// Func is called for each notification, in-process, without serialisation.
type Func func(ctx context.Context, n Notification) error

// Callback delivers notifications via a Go function call. Used when
// jsonwatch is embedded in another binary, and in tests.
type Callback struct {
	fn Func
}

// NewCallback creates a Callback sink. A nil fn drops notifications.
func NewCallback(fn Func) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, n Notification) error {
	if c.fn != nil {
		return c.fn(ctx, n)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
