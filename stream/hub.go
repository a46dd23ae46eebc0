package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/brettbedarf/colstore"
	"github.com/brettbedarf/colstore/config"
	"github.com/brettbedarf/colstore/internal/util"
	"github.com/dustin/go-humanize"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

// ErrSourceRemoved terminates streams whose source was deleted while open
var ErrSourceRemoved = errors.New("stream source was removed")

// Hub is the producing side of the transport. Every open stream gets its
// own read loop; registrations live in a concurrent map keyed by id.
type Hub struct {
	resolver  colstore.SourceResolver
	sink      Sink
	chunkSize int
	rateLimit int

	regs   *xsync.Map[ID, *registration]
	nextID atomic.Uint64
}

// NewHub creates a hub that resolves sources with resolver and delivers
// events to sink
func NewHub(cfg *config.Config, resolver colstore.SourceResolver, sink Sink) *Hub {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = config.DefaultChunkSize
	}
	return &Hub{
		resolver:  resolver,
		sink:      sink,
		chunkSize: chunkSize,
		rateLimit: cfg.StreamRateLimit,
		regs:      xsync.NewMap[ID, *registration](),
	}
}

// registration is one live stream. mu serializes event delivery against
// shutdown so nothing is sent once Close has returned.
type registration struct {
	id     ID
	src    colstore.SourceDescriptor
	reader io.ReadCloser
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	// credit holds one token per chunk the consumer can still accept; nil
	// when the stream is not flow controlled
	credit chan struct{}

	aborted   atomic.Pointer[abortCause]
	abortCh   chan struct{}
	closeOnce sync.Once
}

type abortCause struct {
	err error
}

// Open resolves src and starts delivering its content, relying on the sink
// alone for backpressure. See [Hub.OpenWindow].
func (h *Hub) Open(session context.Context, src colstore.SourceDescriptor) (ID, error) {
	return h.OpenWindow(session, src, 0)
}

// OpenWindow resolves src and starts delivering its content. At most window
// data events are outstanding until the consumer returns credit with
// [Hub.Ack]; a window of 0 disables flow control. The stream is bound to
// session: when session is done the stream is released as if closed by the
// consumer. Resolution failures create no registration.
func (h *Hub) OpenWindow(session context.Context, src colstore.SourceDescriptor, window int) (ID, error) {
	logger := util.GetLogger("Hub.Open")

	reader, err := h.resolver.Resolve(session, src)
	if err != nil {
		logger.Debug().Err(err).Str("source", string(src.Type)).Msg("Source did not resolve")
		return 0, err
	}

	ctx, cancel := context.WithCancel(session)
	reg := &registration{
		id:      h.nextID.Add(1),
		src:     src,
		reader:  reader,
		cancel:  cancel,
		abortCh: make(chan struct{}),
	}
	if window > 0 {
		reg.credit = make(chan struct{}, window)
		reg.grant(window)
	}
	h.regs.Store(reg.id, reg)
	context.AfterFunc(ctx, func() { h.Close(reg.id) })

	logger.Debug().Uint64("stream", reg.id).Str("source", string(src.Type)).Int("window", window).Msg("Opened stream")
	go h.pump(ctx, reg)
	return reg.id, nil
}

// Close cancels stream id and releases its registration. Closing an unknown
// or finished stream is a no-op; no event for id is sent after Close returns.
func (h *Hub) Close(id ID) {
	reg, ok := h.regs.LoadAndDelete(id)
	if !ok {
		return
	}
	reg.shutdown()
	logger := util.GetLogger("Hub.Close")
	logger.Trace().Uint64("stream", id).Msg("Closed stream")
}

// Ack returns n chunk credits to stream id. Unknown ids and streams opened
// without a window are ignored.
func (h *Hub) Ack(id ID, n int) {
	if reg, ok := h.regs.Load(id); ok {
		reg.grant(n)
	}
}

// Abort terminates every open stream whose source matches with an error
// event carrying cause
func (h *Hub) Abort(match func(colstore.SourceDescriptor) bool, cause error) int {
	n := 0
	h.regs.Range(func(_ ID, reg *registration) bool {
		if match(reg.src) && reg.abort(cause) {
			n++
		}
		return true
	})
	return n
}

// AbortNodes terminates the request body streams of the given nodes
func (h *Hub) AbortNodes(ids []colstore.NodeID) int {
	set := make(map[colstore.NodeID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	n := h.Abort(func(src colstore.SourceDescriptor) bool {
		return src.Type == colstore.RequestBodySourceType && set[src.NodeID]
	}, ErrSourceRemoved)
	if n > 0 {
		logger := util.GetLogger("Hub.Abort")
		logger.Debug().Int("streams", n).Msg("Aborted streams of removed nodes")
	}
	return n
}

// Shutdown closes every open stream
func (h *Hub) Shutdown() {
	h.regs.Range(func(id ID, _ *registration) bool {
		h.Close(id)
		return true
	})
}

// Len returns the number of live registrations
func (h *Hub) Len() int {
	return h.regs.Size()
}

func (h *Hub) newLimiter() *rate.Limiter {
	if h.rateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(h.rateLimit), max(h.rateLimit, h.chunkSize))
}

// pump reads the source until exhausted and emits one event per chunk
// followed by exactly one terminal event
func (h *Hub) pump(ctx context.Context, reg *registration) {
	logger := util.GetLogger("Hub.Stream")
	defer h.release(reg)

	limiter := h.newLimiter()
	buf := make([]byte, h.chunkSize)
	var total uint64
	for {
		n, err := reg.reader.Read(buf)
		if n > 0 {
			if !reg.await(ctx) {
				h.finish(ctx, reg, ctx.Err())
				return
			}
			if limiter != nil {
				if werr := limiter.WaitN(ctx, n); werr != nil {
					h.finish(ctx, reg, werr)
					return
				}
			}
			if !reg.emit(ctx, h.sink, Event{Type: DataEvent, StreamID: reg.id, Chunk: bytes.Clone(buf[:n])}) {
				return
			}
			total += uint64(n)
		}
		if errors.Is(err, io.EOF) {
			if reg.emit(ctx, h.sink, Event{Type: EndEvent, StreamID: reg.id}) {
				logger.Debug().Uint64("stream", reg.id).Str("size", humanize.Bytes(total)).Msg("Stream finished")
			}
			return
		}
		if err != nil {
			h.finish(ctx, reg, err)
			return
		}
	}
}

// finish terminates a stream that stopped early. A consumer close is
// silent; an abort or a read failure becomes an error event.
func (h *Hub) finish(ctx context.Context, reg *registration, err error) {
	if cause := reg.abortErr(); cause != nil {
		err = cause
	} else if ctx.Err() != nil {
		return
	}
	logger := util.GetLogger("Hub.Stream")
	logger.Warn().Err(err).Uint64("stream", reg.id).Msg("Stream failed")
	reg.emit(context.WithoutCancel(ctx), h.sink, Event{Type: ErrorEvent, StreamID: reg.id, Error: err.Error()})
}

func (h *Hub) release(reg *registration) {
	h.regs.Delete(reg.id)
	reg.shutdown()
}

// emit delivers ev unless the registration is already closed. After a
// terminal event the registration is marked closed.
func (r *registration) emit(ctx context.Context, sink Sink, ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if err := sink.Send(ctx, ev); err != nil {
		r.closed = true
		return false
	}
	if ev.terminal() {
		r.closed = true
	}
	return true
}

// shutdown cancels the read loop and releases the reader. Safe to call
// concurrently and more than once.
func (r *registration) shutdown() {
	r.cancel()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.closeReader()
}

// abort stops the read loop but leaves the registration open so the loop
// can report cause. It never waits on event delivery. Returns false if the
// stream was already aborted.
func (r *registration) abort(cause error) bool {
	if !r.aborted.CompareAndSwap(nil, &abortCause{err: cause}) {
		return false
	}
	close(r.abortCh)
	r.closeReader()
	return true
}

func (r *registration) grant(n int) {
	if r.credit == nil {
		return
	}
	for range n {
		select {
		case r.credit <- struct{}{}:
		default:
			return
		}
	}
}

// await takes one credit. It reports false if the stream was cancelled or
// aborted while waiting.
func (r *registration) await(ctx context.Context) bool {
	if r.credit == nil {
		return true
	}
	select {
	case <-r.credit:
		return true
	case <-ctx.Done():
		return false
	case <-r.abortCh:
		return false
	}
}

func (r *registration) abortErr() error {
	if c := r.aborted.Load(); c != nil {
		return c.err
	}
	return nil
}

func (r *registration) closeReader() {
	r.closeOnce.Do(func() {
		r.reader.Close() // nolint:errcheck
	})
}
