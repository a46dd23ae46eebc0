// Package stream moves byte content from the producing process to a
// consumer in bounded chunks. The producing side is a [Hub]; the consuming
// side is a [Consumer].
package stream

import (
	"context"
	"fmt"
)

// ID identifies one open stream registration
type ID = uint64

// EventType valid types are DataEvent, EndEvent, ErrorEvent
type EventType string

const (
	DataEvent  EventType = "stream-data"
	EndEvent   EventType = "stream-end"
	ErrorEvent EventType = "stream-error"
)

// Event is a single producer to consumer notification. Exactly one EndEvent or
// ErrorEvent terminates every stream, unless the consumer closed it first.
type Event struct {
	Type     EventType `json:"type"`
	StreamID ID        `json:"streamId"`
	Chunk    []byte    `json:"chunk,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func (e Event) terminal() bool {
	return e.Type == EndEvent || e.Type == ErrorEvent
}

// Sink delivers events to the consuming side. Send may block for
// backpressure and must return once ctx is done.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to [Sink]
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Send(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Error is the consumer side form of an ErrorEvent
type Error struct {
	StreamID ID
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("stream %d: %s", e.StreamID, e.Message)
}
