package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/brettbedarf/colstore"
	"github.com/brettbedarf/colstore/adapters"
	"github.com/brettbedarf/colstore/collection"
	"github.com/brettbedarf/colstore/config"
	"github.com/brettbedarf/colstore/internal/util"
	"github.com/brettbedarf/colstore/requests"
	"github.com/brettbedarf/colstore/stream"
	"github.com/puzpuzpuz/xsync/v4"
)

// ErrDisconnected is returned for calls pending when the connection ends
var ErrDisconnected = errors.New("ipc connection closed")

// Client is the consuming end of a connection. Replies are matched to calls
// by sequence number; events are pushed into the client's [stream.Consumer].
// Streams are flow controlled per stream, so one unread stream never holds
// up replies or other streams.
type Client struct {
	r io.Reader

	mu sync.Mutex // serializes command lines
	w  io.Writer

	seq      atomic.Uint64
	pending  *xsync.Map[uint64, chan *Frame]
	consumer *stream.Consumer

	done chan struct{}
	err  error
}

func NewClient(cfg *config.Config, r io.Reader, w io.Writer) *Client {
	c := &Client{
		r:       r,
		w:       w,
		pending: xsync.NewMap[uint64, chan *Frame](),
		done:    make(chan struct{}),
	}
	c.consumer = stream.NewConsumer(cfg, c)
	return c
}

// Consumer returns the stream consumer fed by this connection
func (c *Client) Consumer() *stream.Consumer {
	return c.consumer
}

// Run reads frames until the connection ends or ctx is done. Calls made
// before Run is started block until it is.
func (c *Client) Run(ctx context.Context) error {
	logger := util.GetLogger("IPC.Client")
	defer func() {
		close(c.done)
		c.consumer.Abandon(ErrDisconnected)
	}()

	scanner := bufio.NewScanner(c.r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		var f Frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			logger.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}
		switch f.Kind {
		case ReplyFrame:
			if ch, ok := c.pending.LoadAndDelete(f.Seq); ok {
				ch <- &f
			} else {
				logger.Warn().Uint64("seq", f.Seq).Msg("Reply for unknown call")
			}
		case EventFrame:
			if f.Event == nil {
				continue
			}
			if err := c.consumer.Send(ctx, *f.Event); err != nil {
				c.err = err
				return err
			}
		default:
			logger.Warn().Str("kind", string(f.Kind)).Msg("Dropping unknown frame")
		}
	}
	c.err = scanner.Err()
	return c.err
}

// Call sends cmd and decodes the reply result into out, which may be nil
func (c *Client) Call(ctx context.Context, cmd requests.Command, out any) error {
	seq := c.seq.Add(1)
	data, err := requests.Marshal(seq, cmd)
	if err != nil {
		return err
	}
	ch := make(chan *Frame, 1)
	c.pending.Store(seq, ch)

	c.mu.Lock()
	_, err = c.w.Write(append(data, '\n'))
	c.mu.Unlock()
	if err != nil {
		c.pending.Delete(seq)
		return err
	}

	select {
	case f := <-ch:
		if f.Error != nil {
			return &RemoteError{Kind: f.Error.Kind, Message: f.Error.Message}
		}
		if out != nil && len(f.Result) > 0 {
			return json.Unmarshal(f.Result, out)
		}
		return nil
	case <-ctx.Done():
		c.pending.Delete(seq)
		return ctx.Err()
	case <-c.done:
		return ErrDisconnected
	}
}

// OpenStream implements [stream.Producer]
func (c *Client) OpenStream(ctx context.Context, src colstore.SourceDescriptor, window int) (stream.ID, error) {
	var res requests.StreamOpenResult
	if err := c.Call(ctx, &requests.StreamOpenRequestDTO{Source: src, Window: window}, &res); err != nil {
		return 0, err
	}
	return res.StreamID, nil
}

// CloseStream implements [stream.Producer]. The producer writes the reply
// only after the stream stopped, so no event for id follows it.
func (c *Client) CloseStream(ctx context.Context, id stream.ID) error {
	return c.Call(ctx, &requests.StreamCloseRequestDTO{StreamID: id}, nil)
}

// Ack implements [stream.Producer]
func (c *Client) Ack(ctx context.Context, id stream.ID, n int) error {
	return c.Call(ctx, &requests.StreamAckRequestDTO{StreamID: id, Credits: n}, nil)
}

func (c *Client) Tree(ctx context.Context) (*collection.NodeView, error) {
	var v collection.NodeView
	if err := c.Call(ctx, &requests.TreeRequestDTO{}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) Add(ctx context.Context, parentID colstore.NodeID, nodeType colstore.NodeType, title string) (*collection.NodeView, error) {
	var v collection.NodeView
	cmd := &requests.AddRequestDTO{ParentID: parentID, NodeType: nodeType, Title: title}
	if err := c.Call(ctx, cmd, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) Rename(ctx context.Context, id colstore.NodeID, title string) error {
	return c.Call(ctx, &requests.RenameRequestDTO{ID: id, Title: title}, nil)
}

func (c *Client) Move(ctx context.Context, id, parentID colstore.NodeID) error {
	return c.Call(ctx, &requests.MoveRequestDTO{ID: id, ParentID: parentID}, nil)
}

func (c *Client) Remove(ctx context.Context, id colstore.NodeID) error {
	return c.Call(ctx, requests.NewNodeRequest(requests.RemoveCommandType, id), nil)
}

func (c *Client) Update(ctx context.Context, id colstore.NodeID, patch collection.Patch) (*collection.NodeView, error) {
	var v collection.NodeView
	if err := c.Call(ctx, &requests.UpdateRequestDTO{ID: id, Patch: patch}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) WriteBody(ctx context.Context, id colstore.NodeID, content string) (int64, error) {
	var res requests.BodyResult
	err := c.Call(ctx, requests.NewBodyRequest(requests.WriteBodyCommandType, id, content), &res)
	return res.Bytes, err
}

func (c *Client) Execute(ctx context.Context, id colstore.NodeID) (*adapters.Response, error) {
	var res adapters.Response
	if err := c.Call(ctx, requests.NewNodeRequest(requests.ExecuteCommandType, id), &res); err != nil {
		return nil, err
	}
	return &res, nil
}
