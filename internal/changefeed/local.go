package changefeed

import "context"

// DefaultLocalBuffer is the queue depth of a Local feed.
const DefaultLocalBuffer = 256

// Local is an in-process feed backed by a buffered channel.
type Local struct {
	ch chan Change
}

// NewLocal creates a Local feed holding up to buffer undelivered changes.
func NewLocal(buffer int) *Local {
	if buffer <= 0 {
		buffer = DefaultLocalBuffer
	}
	return &Local{ch: make(chan Change, buffer)}
}

// Publish enqueues c, waiting for room until ctx ends.
func (l *Local) Publish(ctx context.Context, c Change) error {
	select {
	case l.ch <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe hands every change to handle until ctx ends.
func (l *Local) Subscribe(ctx context.Context, handle func(Change)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-l.ch:
			handle(c)
		}
	}
}
