package server

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/brettbedarf/colstore"
	"github.com/brettbedarf/colstore/adapters"
	"github.com/brettbedarf/colstore/collection"
	"github.com/brettbedarf/colstore/config"
	"github.com/brettbedarf/colstore/internal/util"
	"github.com/brettbedarf/colstore/ipc"
	"github.com/brettbedarf/colstore/requests"
	"github.com/brettbedarf/colstore/stream"
)

// Backend contains the producing side state for one collection with
// abstractions over the wire protocol used to reach it. Executed responses
// belong to the connection that produced them.
type Backend struct {
	cfg    *config.Config
	store  *collection.Store
	client adapters.HTTPClient
}

// New creates a Backend serving store. A nil client uses the default HTTP
// client of the engine.
func New(cfg *config.Config, store *collection.Store, client adapters.HTTPClient) *Backend {
	return &Backend{cfg: cfg, store: store, client: client}
}

// Store returns the served collection
func (b *Backend) Store() *collection.Store {
	return b.store
}

// Close closes the store. Sessions discard their own unclaimed responses.
func (b *Backend) Close() error {
	return b.store.Close()
}

// registry resolves request bodies from the store and response bodies from
// the given session scoped responses
func (b *Backend) registry(responses *adapters.Responses) *adapters.Registry {
	registry := adapters.NewRegistry()
	adapters.RegisterBuiltins(registry, adapters.Builtins{
		RequestBody: b.store,
		Responses:   responses,
	})
	return registry
}

// Serve handles one consumer connection until it disconnects or ctx is
// done. Streams opened on the connection and responses it never claimed die
// with it.
func (b *Backend) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	logger := util.GetLogger("Backend.Serve")

	conn := ipc.NewConn(r, w)
	responses := adapters.NewResponses()
	hub := stream.NewHub(b.cfg, b.registry(responses), conn)
	unregister := b.store.OnRemove(func(ids []colstore.NodeID) { hub.AbortNodes(ids) })
	defer func() {
		unregister()
		hub.Shutdown()
		if n := responses.Len(); n > 0 {
			logger.Debug().Int("responses", n).Msg("Discarding unclaimed responses")
		}
		responses.Close()
	}()

	logger.Info().Str("root", b.store.Root()).Msg("Serving collection")
	return conn.Serve(ctx, &session{
		Backend:   b,
		hub:       hub,
		responses: responses,
		engine:    adapters.NewHTTPEngine(b.cfg, b.client, responses),
	})
}

// Local returns a consumer wired to an in-process hub. Its streams live
// until session is done.
func (b *Backend) Local(session context.Context) *stream.Consumer {
	consumer := stream.NewConsumer(b.cfg, nil)
	responses := adapters.NewResponses()
	hub := stream.NewHub(b.cfg, b.registry(responses), consumer)
	unregister := b.store.OnRemove(func(ids []colstore.NodeID) { hub.AbortNodes(ids) })
	context.AfterFunc(session, func() {
		unregister()
		hub.Shutdown()
		responses.Close()
	})
	consumer.SetProducer(stream.NewLocalProducer(session, hub))
	return consumer
}

// session executes the commands of one connection
type session struct {
	*Backend
	hub       *stream.Hub
	responses *adapters.Responses
	engine    *adapters.HTTPEngine
}

func (s *session) parent(id colstore.NodeID) colstore.NodeID {
	if id == colstore.NilNodeID {
		return s.store.RootID()
	}
	return id
}

func (s *session) Handle(ctx context.Context, cmd requests.Command) (any, error) {
	switch c := cmd.(type) {
	case *requests.TreeRequestDTO:
		return s.store.Tree(ctx)

	case *requests.NodeRequestDTO:
		switch c.CommandType() {
		case requests.NodeCommandType:
			return s.store.Node(ctx, c.ID)
		case requests.RemoveCommandType:
			return nil, s.store.Remove(ctx, c.ID)
		case requests.ExecuteCommandType:
			return s.execute(ctx, c.ID)
		}

	case *requests.AddRequestDTO:
		return s.store.Add(ctx, s.parent(c.ParentID), c.NodeType, c.Title)

	case *requests.RenameRequestDTO:
		return nil, s.store.Rename(ctx, c.ID, c.Title)

	case *requests.MoveRequestDTO:
		return nil, s.store.Move(ctx, c.ID, s.parent(c.ParentID))

	case *requests.ReorderRequestDTO:
		return nil, s.store.Reorder(ctx, s.parent(c.ParentID), c.Order)

	case *requests.UpdateRequestDTO:
		patch := c.Patch
		return s.store.Update(ctx, c.ID, &patch)

	case *requests.BodyRequestDTO:
		var (
			n   int64
			err error
		)
		if c.CommandType() == requests.AppendBodyCommandType {
			n, err = s.store.AppendBody(ctx, c.ID, strings.NewReader(c.Content))
		} else {
			n, err = s.store.WriteBody(ctx, c.ID, strings.NewReader(c.Content))
		}
		if err != nil {
			return nil, err
		}
		return &requests.BodyResult{Bytes: n}, nil

	case *requests.DiscardResponseRequestDTO:
		if !s.responses.Discard(c.ResponseID) {
			return nil, fmt.Errorf("%w: response %s", collection.ErrNotFound, c.ResponseID)
		}
		return nil, nil

	case *requests.StreamOpenRequestDTO:
		id, err := s.hub.OpenWindow(ctx, c.Source, c.Window)
		if err != nil {
			return nil, err
		}
		return &requests.StreamOpenResult{StreamID: id}, nil

	case *requests.StreamCloseRequestDTO:
		s.hub.Close(c.StreamID)
		return nil, nil

	case *requests.StreamAckRequestDTO:
		s.hub.Ack(c.StreamID, c.Credits)
		return nil, nil
	}
	return nil, fmt.Errorf("unhandled command %q", cmd.CommandType())
}

// execute runs request id with the collection variables. The response body
// is bound to the session and waits for a stream-open on its response id.
func (s *session) execute(ctx context.Context, id colstore.NodeID) (*adapters.Response, error) {
	spec, err := s.store.RequestSpec(ctx, id)
	if err != nil {
		return nil, err
	}
	vars, err := s.store.Variables(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.Execute(ctx, spec, vars)
}
