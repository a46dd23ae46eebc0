package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/brettbedarf/colstore"
	"github.com/brettbedarf/colstore/config"
	"github.com/brettbedarf/colstore/internal/util"
	"github.com/puzpuzpuz/xsync/v4"
)

// ErrClosed is returned by [Stream.Next] after the consumer closed the stream
var ErrClosed = errors.New("stream closed")

// ErrWindowExceeded fails a stream whose producer sent more chunks than it
// was credited
var ErrWindowExceeded = errors.New("stream credit window exceeded")

// Producer is the consumer's view of the producing side
type Producer interface {
	// OpenStream opens a stream on src. The producer must not have more
	// than window data events for it outstanding beyond the credit
	// returned through Ack.
	OpenStream(ctx context.Context, src colstore.SourceDescriptor, window int) (ID, error)
	// CloseStream must not return before the producer stopped emitting
	// events for id
	CloseStream(ctx context.Context, id ID) error
	// Ack returns n chunk credits for id
	Ack(ctx context.Context, id ID, n int) error
}

// Consumer reassembles inbound events into per stream chunk queues. It never
// polls: the transport pushes events through [Consumer.Send], which never
// blocks. Each stream's queue holds one credit window; chunks are credited
// back to the producer as [Stream.Next] hands them out.
type Consumer struct {
	producer Producer
	buffer   int
	streams  *xsync.Map[ID, *Stream]
}

// NewConsumer creates a consumer opening streams through producer
func NewConsumer(cfg *config.Config, producer Producer) *Consumer {
	buffer := cfg.ConsumerBuffer
	if buffer <= 0 {
		buffer = config.DefaultConsumerBuffer
	}
	return &Consumer{
		producer: producer,
		buffer:   buffer,
		streams:  xsync.NewMap[ID, *Stream](),
	}
}

// SetProducer replaces the producer; used when the transport is wired after
// the consumer that feeds it
func (c *Consumer) SetProducer(p Producer) {
	c.producer = p
}

// Stream is the consumer side of one open stream
type Stream struct {
	id     ID
	chunks chan []byte
	done   chan struct{}

	once    sync.Once
	err     error // io.EOF on a clean end; valid once done is closed
	release func()

	mu       sync.Mutex
	consumed int // chunks handed out but not yet credited
	ackEvery int
	ack      func(ctx context.Context, n int)
}

func (s *Stream) ID() ID {
	return s.id
}

// Done is closed once the stream ended, failed or was closed
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Next returns the next chunk. It returns io.EOF after the last chunk of a
// completed stream, a [*Error] for a failed one and [ErrClosed] once closed.
// Chunks received before the terminal event are always delivered first.
// A stream must be read until Next fails or be closed, otherwise the
// consumer keeps tracking it.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-s.chunks:
		return s.took(ctx, chunk), nil
	default:
	}
	select {
	case chunk := <-s.chunks:
		return s.took(ctx, chunk), nil
	case <-s.done:
		select {
		case chunk := <-s.chunks:
			return chunk, nil
		default:
		}
		s.release()
		return nil, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// took credits chunk back to the producer in batches of half a window
func (s *Stream) took(ctx context.Context, chunk []byte) []byte {
	s.mu.Lock()
	s.consumed++
	n := 0
	if s.consumed >= s.ackEvery {
		n, s.consumed = s.consumed, 0
	}
	s.mu.Unlock()
	if n > 0 {
		select {
		case <-s.done:
		default:
			s.ack(ctx, n)
		}
	}
	return chunk
}

// Collect accumulates every chunk of s into one buffer. Only use it for
// content known to be bounded.
func Collect(ctx context.Context, s *Stream) ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
		buf.Write(chunk)
	}
}

func (c *Consumer) stream(id ID) *Stream {
	s, _ := c.streams.LoadOrStore(id, &Stream{
		id:       id,
		chunks:   make(chan []byte, c.buffer),
		done:     make(chan struct{}),
		release:  func() { c.streams.Delete(id) },
		ackEvery: max(1, c.buffer/2),
		ack: func(ctx context.Context, n int) {
			if err := c.producer.Ack(ctx, id, n); err != nil {
				logger := util.GetLogger("Consumer.Ack")
				logger.Debug().Err(err).Uint64("stream", id).Msg("Failed to return credit")
			}
		},
	})
	return s
}

// Open asks the producer for a stream on src
func (c *Consumer) Open(ctx context.Context, src colstore.SourceDescriptor) (*Stream, error) {
	id, err := c.producer.OpenStream(ctx, src, c.buffer)
	if err != nil {
		return nil, err
	}
	// events may have arrived before the open reply; stream() picks them up
	return c.stream(id), nil
}

// Close cancels s on the producer. Closing twice, or closing a finished
// stream, is a no-op.
func (c *Consumer) Close(ctx context.Context, s *Stream) error {
	if _, ok := c.streams.Load(s.id); !ok {
		return nil
	}
	s.finish(ErrClosed)
	err := c.producer.CloseStream(ctx, s.id)
	c.streams.Delete(s.id)
	return err
}

// Send implements [Sink]: it routes ev to its stream without blocking. Data
// beyond the stream's credit window fails that stream only.
func (c *Consumer) Send(_ context.Context, ev Event) error {
	s := c.stream(ev.StreamID)
	switch ev.Type {
	case DataEvent:
		select {
		case <-s.done:
			return nil
		default:
		}
		select {
		case s.chunks <- ev.Chunk:
		default:
			s.finish(&Error{StreamID: ev.StreamID, Message: ErrWindowExceeded.Error()})
			go c.producer.CloseStream(context.Background(), ev.StreamID) // nolint:errcheck
		}
	case EndEvent:
		s.finish(io.EOF)
	case ErrorEvent:
		s.finish(&Error{StreamID: ev.StreamID, Message: ev.Error})
	default:
		logger := util.GetLogger("Consumer.Send")
		logger.Warn().Str("type", string(ev.Type)).Uint64("stream", ev.StreamID).Msg("Dropping unknown event")
	}
	return nil
}

// Abandon fails every tracked stream with err once its buffered chunks are
// read. Used when the transport is gone.
func (c *Consumer) Abandon(err error) {
	c.streams.Range(func(_ ID, s *Stream) bool {
		s.finish(err)
		return true
	})
}

// Len returns the number of tracked streams: open, or terminated but not
// yet drained
func (c *Consumer) Len() int {
	return c.streams.Size()
}

var _ Sink = (*Consumer)(nil)

// LocalProducer serves a [Consumer] from a [Hub] in the same process. Every
// stream it opens is bound to session.
type LocalProducer struct {
	hub     *Hub
	session context.Context
}

func NewLocalProducer(session context.Context, hub *Hub) *LocalProducer {
	return &LocalProducer{hub: hub, session: session}
}

func (p *LocalProducer) OpenStream(_ context.Context, src colstore.SourceDescriptor, window int) (ID, error) {
	return p.hub.OpenWindow(p.session, src, window)
}

func (p *LocalProducer) CloseStream(_ context.Context, id ID) error {
	p.hub.Close(id)
	return nil
}

func (p *LocalProducer) Ack(_ context.Context, id ID, n int) error {
	p.hub.Ack(id, n)
	return nil
}

var _ Producer = (*LocalProducer)(nil)
