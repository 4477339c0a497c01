package authpipe

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// EventType names an auth-state transition.
type EventType string

// Event types, in the order a session usually produces them.
const (
	EventSignedIn        EventType = "signed_in"
	EventSignedOut       EventType = "signed_out"
	EventTokenRefreshed  EventType = "token_refreshed"
	EventRefreshFailed   EventType = "refresh_failed"
	EventLoadingStarted  EventType = "loading_started"
	EventLoadingFinished EventType = "loading_finished"
	// EventSessionTerminated is emitted once per teardown, right before navigation.
	EventSessionTerminated EventType = "session_terminated"
)

// AuthEvent describes one auth-state transition.
type AuthEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	UID       string    `json:"uid,omitempty"`
	Path      string    `json:"path,omitempty"`
	AttemptID string    `json:"attempt_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	// ExpiresAt is set on EventSignedIn and EventTokenRefreshed.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// EventSink receives auth events.
type EventSink interface {
	Emit(ctx context.Context, event AuthEvent)
}

// NoOpSink discards events.
type NoOpSink struct{}

// Emit implements [EventSink].
func (NoOpSink) Emit(context.Context, AuthEvent) {}

// ChannelSink buffers events on a channel.
type ChannelSink struct {
	events chan AuthEvent
}

// NewChannelSink returns a sink with the given buffer; values below 1 mean 1.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuthEvent, buffer),
	}
}

// Emit blocks until the event is buffered or ctx ends.
func (s *ChannelSink) Emit(ctx context.Context, event AuthEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events returns the receive side of the buffer.
func (s *ChannelSink) Events() <-chan AuthEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink returns a sink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

// Emit writes event as a single line. Marshal and write errors are dropped.
func (s *JSONWriterSink) Emit(ctx context.Context, event AuthEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// subscribers fans events out to OnAuthStateChange callbacks and the configured sink.
type subscribers struct {
	mu     sync.RWMutex
	nextID uint64
	fns    map[uint64]func(AuthEvent)
	sink   EventSink
}

func newSubscribers(sink EventSink) *subscribers {
	if sink == nil {
		sink = NoOpSink{}
	}
	return &subscribers{fns: make(map[uint64]func(AuthEvent)), sink: sink}
}

func (s *subscribers) add(fn func(AuthEvent)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.fns[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) Emit(ctx context.Context, event AuthEvent) {
	s.sink.Emit(ctx, event)

	s.mu.RLock()
	fns := make([]func(AuthEvent), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}
