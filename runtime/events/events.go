// Package events defines the execution audit sink contract. The conductor
// appends one event per significant occurrence (workflow start and
// completion, node terminal, retry scheduled, condition error); sinks decide
// where the entries
// go. The store gateway records them durably; features/events/pulse publishes
// them to a Pulse stream for live observers.
package events

import (
	"context"

	"goa.design/weave/runtime/store"
)

type (
	// Sink consumes execution audit events. Append must be safe for
	// concurrent use; failures are reported but the conductor treats them as
	// non-fatal.
	Sink interface {
		Append(ctx context.Context, ev store.Event) error
	}

	// Multi fans a single append out to several sinks. Append returns the
	// first error but still delivers to every sink.
	Multi []Sink

	// Discard drops every event. Useful default for tests.
	Discard struct{}

	storeSink struct {
		g store.Events
	}
)

// NewStoreSink returns a Sink that records events through the persistence
// gateway.
func NewStoreSink(g store.Events) Sink {
	return &storeSink{g: g}
}

// Append implements Sink.
func (s *storeSink) Append(ctx context.Context, ev store.Event) error {
	return s.g.AppendEvent(ctx, ev)
}

// Append implements Sink.
func (m Multi) Append(ctx context.Context, ev store.Event) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Append implements Sink.
func (Discard) Append(context.Context, store.Event) error { return nil }
