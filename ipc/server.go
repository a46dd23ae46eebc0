package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/brettbedarf/colstore/internal/util"
	"github.com/brettbedarf/colstore/requests"
	"github.com/brettbedarf/colstore/stream"
)

// maxLine bounds a single command line
const maxLine = 64 << 20

// Handler executes one decoded command. ctx is the connection session and
// is cancelled when the peer disconnects.
type Handler interface {
	Handle(ctx context.Context, cmd requests.Command) (any, error)
}

// HandlerFunc adapts a function to [Handler]
type HandlerFunc func(ctx context.Context, cmd requests.Command) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd requests.Command) (any, error) {
	return f(ctx, cmd)
}

// Conn is the producing end of a connection. It reads command lines and
// writes reply and event frames; it is the [stream.Sink] of the session hub.
type Conn struct {
	r io.Reader

	mu  sync.Mutex // serializes frames
	enc *json.Encoder
}

func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{r: r, enc: json.NewEncoder(w)}
}

func (c *Conn) write(f *Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(f)
}

// Send implements [stream.Sink]
func (c *Conn) Send(ctx context.Context, ev stream.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(&Frame{Kind: EventFrame, Event: &ev})
}

// Serve handles commands until the reader is exhausted or ctx is done. Each
// command runs concurrently; its reply is written once it completes. The
// session context passed to h is cancelled before Serve returns.
func (c *Conn) Serve(ctx context.Context, h Handler) error {
	logger := util.GetLogger("IPC.Serve")

	session, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.r)
		scanner.Buffer(make([]byte, 64*1024), maxLine)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-session.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-session.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				logger.Error().Err(err).Msg("Connection read failed")
			}
			logger.Debug().Msg("Peer disconnected")
			return err
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.handle(session, h, line)
			}()
		}
	}
}

func (c *Conn) handle(ctx context.Context, h Handler, line []byte) {
	logger := util.GetLogger("IPC.Handle")

	meta, cmd, err := requests.Unmarshal(line)
	var result any
	if err != nil {
		err = &BadRequestError{Err: err}
	} else {
		logger.Trace().Uint64("seq", meta.Seq).Str("type", string(meta.Type)).Msg("Handling command")
		result, err = h.Handle(ctx, cmd)
	}

	reply := &Frame{Kind: ReplyFrame, Seq: meta.Seq}
	if err == nil && result != nil {
		reply.Result, err = json.Marshal(result)
	}
	if err != nil {
		reply.Result = nil
		reply.Error = &ErrorBody{Kind: classify(err), Message: err.Error()}
		logger.Debug().Err(err).Uint64("seq", meta.Seq).Str("type", string(meta.Type)).Msg("Command failed")
	}
	if werr := c.write(reply); werr != nil && !errors.Is(werr, io.ErrClosedPipe) {
		logger.Error().Err(werr).Uint64("seq", meta.Seq).Msg("Failed to write reply")
	}
}
