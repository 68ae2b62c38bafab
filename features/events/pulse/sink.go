// Package pulse publishes execution audit events to a Pulse stream so live
// observers (dashboards, debuggers) can follow runs without polling the
// store. The store remains the durable record; this sink is fan-out only and
// the conductor treats publish failures as non-fatal.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"goa.design/weave/runtime/store"
)

type (
	// Options configures the sink.
	Options struct {
		// Redis is the connection backing the Pulse stream. Required.
		Redis *redis.Client
		// StreamName names the stream. Defaults to "weave:events".
		StreamName string
		// MaxLen bounds the number of retained entries. Zero uses Pulse
		// defaults.
		MaxLen int
		// OperationTimeout bounds individual publishes. Zero means none.
		OperationTimeout time.Duration
	}

	// Sink implements events.Sink over a Pulse stream.
	Sink struct {
		stream  *streaming.Stream
		timeout time.Duration
	}

	// wireEvent is the serialized stream payload.
	wireEvent struct {
		ExecutionID string         `json:"executionId"`
		Time        time.Time      `json:"time"`
		Level       string         `json:"level"`
		Category    string         `json:"category"`
		Payload     map[string]any `json:"payload,omitempty"`
	}
)

// New builds the sink, creating the stream if needed.
func New(opts Options) (*Sink, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	name := opts.StreamName
	if name == "" {
		name = "weave:events"
	}
	var streamOptions []streamopts.Stream
	if opts.MaxLen > 0 {
		streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(opts.MaxLen))
	}
	stream, err := streaming.NewStream(name, opts.Redis, streamOptions...)
	if err != nil {
		return nil, fmt.Errorf("create event stream: %w", err)
	}
	return &Sink{stream: stream, timeout: opts.OperationTimeout}, nil
}

// Append implements events.Sink. The stream event name is the event
// category so consumers can subscribe selectively.
func (s *Sink) Append(ctx context.Context, ev store.Event) error {
	payload, err := json.Marshal(wireEvent{
		ExecutionID: ev.ExecutionID,
		Time:        ev.Time,
		Level:       ev.Level,
		Category:    ev.Category,
		Payload:     ev.Payload,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := s.stream.Add(ctx, ev.Category, payload); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
