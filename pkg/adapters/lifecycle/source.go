// Package lifecycle exposes workspace events as a lifecycle.Source so they can
// drive a lifecycle event router.
package lifecycle

import (
	"context"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/gluedoc/pkg/core"
)

type sessionSource struct {
	events <-chan core.Event
	types  map[core.EventType]bool
	out    chan lifecycle.Event
}

// Option configures a source.
type Option func(*sessionSource)

// WithTypes restricts the source to the given event types.
func WithTypes(types ...core.EventType) Option {
	return func(s *sessionSource) {
		s.types = make(map[core.EventType]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
}

// NewSource creates a lifecycle.Source that emits session file events.
// core.Event implements lifecycle.Event through its String method.
func NewSource(events <-chan core.Event, opts ...Option) lifecycle.Source {
	s := &sessionSource{
		events: events,
		out:    make(chan lifecycle.Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *sessionSource) Events() <-chan lifecycle.Event {
	return s.out
}

// Start forwards events until ctx is done or the input channel closes, then
// closes the output channel.
func (s *sessionSource) Start(ctx context.Context) error {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-s.events:
				if !ok {
					return nil
				}
				if s.types != nil && !s.types[e.Type] {
					continue
				}
				select {
				case s.out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
