// Package publish defines the channel the broadcast scheduler pushes readings into.
package publish

import (
	"context"
	"errors"
	"fmt"
)

// Channel delivers payload to the current subscribers of topic. Delivery is
// at-most-once and unacknowledged; an error means this payload was not delivered
// somewhere and may be ignored by the caller.
type Channel interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, topic string, payload []byte) error

func (f ChannelFunc) Publish(ctx context.Context, topic string, payload []byte) error {
	return f(ctx, topic, payload)
}

type named struct {
	name string
	ch   Channel
}

// Fanout publishes to every child channel in order. A failing child does not stop
// the others; their errors are joined.
type Fanout struct {
	children []named
}

func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers ch under name. Not safe to call concurrently with Publish.
func (f *Fanout) Add(name string, ch Channel) *Fanout {
	if ch != nil {
		f.children = append(f.children, named{name: name, ch: ch})
	}
	return f
}

func (f *Fanout) Len() int {
	return len(f.children)
}

func (f *Fanout) Publish(ctx context.Context, topic string, payload []byte) error {
	var errs []error
	for _, c := range f.children {
		if err := c.ch.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}
