package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/brettbedarf/colstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLocal wires a consumer to a hub in process, the way a single binary
// embeds both sides
func newLocal(t *testing.T, resolver colstore.SourceResolver) (*Consumer, *Hub) {
	t.Helper()
	cfg := createTestConfig()
	consumer := NewConsumer(cfg, nil)
	hub := NewHub(cfg, resolver, consumer)
	session, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	consumer.SetProducer(NewLocalProducer(session, hub))
	return consumer, hub
}

func TestConsumer_Collect(t *testing.T) {
	t.Parallel()
	src := newPipes()
	src.addBytes("/a", `{"a":1}`)
	consumer, _ := newLocal(t, src)
	ctx := context.Background()

	s, err := consumer.Open(ctx, colstore.FileSource("/a"))
	require.NoError(t, err)
	data, err := Collect(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	// a drained stream is forgotten and closing it is a no-op
	assert.Equal(t, 0, consumer.Len())
	assert.NoError(t, consumer.Close(ctx, s))
}

func TestConsumer_CollectRejectsOnError(t *testing.T) {
	t.Parallel()
	src := newPipes()
	pw := src.add("/flaky")
	consumer, _ := newLocal(t, src)
	ctx := context.Background()

	s, err := consumer.Open(ctx, colstore.FileSource("/flaky"))
	require.NoError(t, err)
	go func() {
		pw.Write([]byte("partial")) // nolint:errcheck
		pw.CloseWithError(errors.New("boom"))
	}()

	_, err = Collect(ctx, s)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, s.ID(), se.StreamID)
	assert.Contains(t, se.Message, "boom")
}

func TestConsumer_OpenUnsupported(t *testing.T) {
	t.Parallel()
	consumer, hub := newLocal(t, newPipes())

	_, err := consumer.Open(context.Background(), colstore.FileSource("/nope"))
	var ue *colstore.UnsupportedSourceError
	assert.ErrorAs(t, err, &ue)
	assert.Equal(t, 0, hub.Len())
	assert.Equal(t, 0, consumer.Len())
}

// Closing one stream must not disturb another
func TestConsumer_IndependentStreams(t *testing.T) {
	t.Parallel()
	src := newPipes()
	pw1 := src.add("/one")
	pw2 := src.add("/two")
	consumer, hub := newLocal(t, src)
	ctx := context.Background()

	s1, err := consumer.Open(ctx, colstore.FileSource("/one"))
	require.NoError(t, err)
	s2, err := consumer.Open(ctx, colstore.FileSource("/two"))
	require.NoError(t, err)

	go pw1.Write([]byte("a1")) // nolint:errcheck
	chunk, err := s1.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", string(chunk))

	go pw2.Write([]byte("b1")) // nolint:errcheck
	chunk, err = s2.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b1", string(chunk))

	require.NoError(t, consumer.Close(ctx, s1))
	require.NoError(t, consumer.Close(ctx, s1))
	_, err = pw1.Write([]byte("late"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)

	go func() {
		pw2.Write([]byte("b2")) // nolint:errcheck
		pw2.Write([]byte("b3")) // nolint:errcheck
		pw2.Close()
	}()
	rest, err := Collect(ctx, s2)
	require.NoError(t, err)
	assert.Equal(t, "b2b3", string(rest))

	_, err = s1.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, waitFor, tick)
}

// stubProducer hands out a fixed id without emitting anything itself
type stubProducer struct {
	mu     sync.Mutex
	id     ID
	window int
	closed []ID
	acked  int
}

func (p *stubProducer) OpenStream(_ context.Context, _ colstore.SourceDescriptor, window int) (ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.window = window
	return p.id, nil
}

func (p *stubProducer) CloseStream(_ context.Context, id ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, id)
	return nil
}

func (p *stubProducer) Ack(_ context.Context, _ ID, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acked += n
	return nil
}

func (p *stubProducer) closedIDs() []ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ID(nil), p.closed...)
}

func TestConsumer_EventsBeforeOpenReply(t *testing.T) {
	t.Parallel()
	producer := &stubProducer{id: 7}
	consumer := NewConsumer(createTestConfig(), producer)
	ctx := context.Background()

	require.NoError(t, consumer.Send(ctx, Event{Type: DataEvent, StreamID: 7, Chunk: []byte("early")}))
	require.NoError(t, consumer.Send(ctx, Event{Type: EndEvent, StreamID: 7}))

	s, err := consumer.Open(ctx, colstore.FileSource("/x"))
	require.NoError(t, err)
	data, err := Collect(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "early", string(data))
	assert.Empty(t, producer.closedIDs())
}

func TestConsumer_CloseDropsLateChunks(t *testing.T) {
	t.Parallel()
	producer := &stubProducer{id: 3}
	consumer := NewConsumer(createTestConfig(), producer)
	ctx := context.Background()

	s, err := consumer.Open(ctx, colstore.FileSource("/x"))
	require.NoError(t, err)
	require.NoError(t, consumer.Close(ctx, s))
	assert.Equal(t, []ID{3}, producer.closedIDs())

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

// a full stream must never block delivery to the others
func TestConsumer_SendNeverBlocks(t *testing.T) {
	t.Parallel()
	cfg := createTestConfig()
	cfg.ConsumerBuffer = 2
	producer := &stubProducer{id: 1}
	consumer := NewConsumer(cfg, producer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, chunk := range []string{"a", "b"} {
		require.NoError(t, consumer.Send(ctx, Event{Type: DataEvent, StreamID: 1, Chunk: []byte(chunk)}))
	}
	// over the window: stream 1 fails, stream 2 is unaffected
	require.NoError(t, consumer.Send(ctx, Event{Type: DataEvent, StreamID: 1, Chunk: []byte("c")}))
	require.NoError(t, consumer.Send(ctx, Event{Type: DataEvent, StreamID: 2, Chunk: []byte("x")}))
	require.NoError(t, consumer.Send(ctx, Event{Type: EndEvent, StreamID: 2}))

	s1, err := consumer.Open(ctx, colstore.FileSource("/x"))
	require.NoError(t, err)
	_, err = Collect(ctx, s1)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrWindowExceeded.Error(), se.Message)
	assert.Eventually(t, func() bool { return len(producer.closedIDs()) == 1 }, waitFor, tick)

	producer.id = 2
	s2, err := consumer.Open(ctx, colstore.FileSource("/y"))
	require.NoError(t, err)
	data, err := Collect(ctx, s2)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestConsumer_ReturnsCredit(t *testing.T) {
	t.Parallel()
	cfg := createTestConfig()
	cfg.ConsumerBuffer = 4
	producer := &stubProducer{id: 5}
	consumer := NewConsumer(cfg, producer)
	ctx := context.Background()

	s, err := consumer.Open(ctx, colstore.FileSource("/x"))
	require.NoError(t, err)
	assert.Equal(t, 4, producer.window)

	for range 4 {
		require.NoError(t, consumer.Send(ctx, Event{Type: DataEvent, StreamID: 5, Chunk: []byte("c")}))
	}
	_, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, producer.acked, "credit goes back in batches")
	_, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, producer.acked)
}

func TestConsumer_AbandonFailsStreams(t *testing.T) {
	t.Parallel()
	consumer := NewConsumer(createTestConfig(), &stubProducer{id: 9})
	ctx := context.Background()

	s, err := consumer.Open(ctx, colstore.FileSource("/x"))
	require.NoError(t, err)
	require.NoError(t, consumer.Send(ctx, Event{Type: DataEvent, StreamID: 9, Chunk: []byte("buffered")}))

	gone := errors.New("transport gone")
	consumer.Abandon(gone)

	chunk, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "buffered", string(chunk))
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, gone)
	assert.Zero(t, consumer.Len())
}

// streams larger than the window are read in any order
func TestConsumer_CollectInReverseOrder(t *testing.T) {
	t.Parallel()
	src := newPipes()
	src.addBytes("/a", strings.Repeat("a", 64))
	src.addBytes("/b", strings.Repeat("b", 64))
	cfg := createTestConfig()
	cfg.ConsumerBuffer = 2
	consumer := NewConsumer(cfg, nil)
	hub := NewHub(cfg, src, consumer)
	session, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer.SetProducer(NewLocalProducer(session, hub))
	ctx := context.Background()

	sa, err := consumer.Open(ctx, colstore.FileSource("/a"))
	require.NoError(t, err)
	sb, err := consumer.Open(ctx, colstore.FileSource("/b"))
	require.NoError(t, err)

	b, err := Collect(ctx, sb)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("b", 64), string(b))
	a, err := Collect(ctx, sa)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 64), string(a))
}

func TestConsumer_NextHonorsContext(t *testing.T) {
	t.Parallel()
	consumer := NewConsumer(createTestConfig(), &stubProducer{id: 1})
	s, err := consumer.Open(context.Background(), colstore.FileSource("/x"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
