package requests

import (
	"errors"
	"fmt"

	"github.com/brettbedarf/colstore"
	"github.com/brettbedarf/colstore/collection"
)

// CommandType is the "type" discriminator of a consumer to producer command
type CommandType string

const (
	TreeCommandType            CommandType = "tree"
	NodeCommandType            CommandType = "node"
	AddCommandType             CommandType = "add"
	RenameCommandType          CommandType = "rename"
	MoveCommandType            CommandType = "move"
	RemoveCommandType          CommandType = "remove"
	ReorderCommandType         CommandType = "reorder"
	UpdateCommandType          CommandType = "update"
	WriteBodyCommandType       CommandType = "write-body"
	AppendBodyCommandType      CommandType = "append-body"
	ExecuteCommandType         CommandType = "execute"
	DiscardResponseCommandType CommandType = "discard-response"
	StreamOpenCommandType      CommandType = "stream-open"
	StreamCloseCommandType     CommandType = "stream-close"
	StreamAckCommandType       CommandType = "stream-ack"
)

// Command is a decoded command. Every command DTO implements it.
type Command interface {
	CommandType() CommandType
	validate() error
}

var errMissingID = errors.New("missing node id")

// TreeRequestDTO asks for a snapshot of the whole collection
type TreeRequestDTO struct{}

// NodeRequestDTO targets a single node; used by node, remove and execute
type NodeRequestDTO struct {
	ID colstore.NodeID `json:"id"`

	cmd CommandType
}

// AddRequestDTO creates a folder or request. A nil ParentID targets the root.
type AddRequestDTO struct {
	ParentID colstore.NodeID   `json:"parentId"`
	NodeType colstore.NodeType `json:"nodeType"` // Default request
	Title    string            `json:"title"`
}

type RenameRequestDTO struct {
	ID    colstore.NodeID `json:"id"`
	Title string          `json:"title"`
}

// MoveRequestDTO reattaches a node. A nil ParentID targets the root.
type MoveRequestDTO struct {
	ID       colstore.NodeID `json:"id"`
	ParentID colstore.NodeID `json:"parentId"`
}

// ReorderRequestDTO sets the display order of a parent's children. A nil
// ParentID targets the root.
type ReorderRequestDTO struct {
	ParentID colstore.NodeID `json:"parentId"`
	Order    []string        `json:"order"`
}

// UpdateRequestDTO carries the patch fields inline next to the id
type UpdateRequestDTO struct {
	ID colstore.NodeID `json:"id"`
	collection.Patch
}

// BodyRequestDTO writes or appends text body content
type BodyRequestDTO struct {
	ID      colstore.NodeID `json:"id"`
	Content string          `json:"content"`

	cmd CommandType
}

type DiscardResponseRequestDTO struct {
	ResponseID string `json:"responseId"`
}

// StreamOpenRequestDTO opens a stream. Window is the number of chunks the
// consumer buffers; 0 leaves the stream without flow control.
type StreamOpenRequestDTO struct {
	Source colstore.SourceDescriptor `json:"source"`
	Window int                       `json:"window,omitempty"`
}

type StreamCloseRequestDTO struct {
	StreamID uint64 `json:"streamId"`
}

// StreamAckRequestDTO returns Credits consumed chunks of a stream
type StreamAckRequestDTO struct {
	StreamID uint64 `json:"streamId"`
	Credits  int    `json:"credits"`
}

// NewNodeRequest builds a node, remove or execute command
func NewNodeRequest(t CommandType, id colstore.NodeID) *NodeRequestDTO {
	return &NodeRequestDTO{ID: id, cmd: t}
}

// NewBodyRequest builds a write-body or append-body command
func NewBodyRequest(t CommandType, id colstore.NodeID, content string) *BodyRequestDTO {
	return &BodyRequestDTO{ID: id, Content: content, cmd: t}
}

func (TreeRequestDTO) CommandType() CommandType { return TreeCommandType }
func (TreeRequestDTO) validate() error          { return nil }

func (d *NodeRequestDTO) CommandType() CommandType { return d.cmd }
func (d *NodeRequestDTO) validate() error {
	if d.ID == colstore.NilNodeID {
		return errMissingID
	}
	return nil
}

func (*AddRequestDTO) CommandType() CommandType { return AddCommandType }
func (d *AddRequestDTO) validate() error {
	if d.NodeType == "" {
		d.NodeType = colstore.RequestNodeType
	}
	if !d.NodeType.Valid() {
		return fmt.Errorf("unknown node type %q", d.NodeType)
	}
	return nil
}

func (*RenameRequestDTO) CommandType() CommandType { return RenameCommandType }
func (d *RenameRequestDTO) validate() error {
	if d.ID == colstore.NilNodeID {
		return errMissingID
	}
	return nil
}

func (*MoveRequestDTO) CommandType() CommandType { return MoveCommandType }
func (d *MoveRequestDTO) validate() error {
	if d.ID == colstore.NilNodeID {
		return errMissingID
	}
	return nil
}

func (*ReorderRequestDTO) CommandType() CommandType { return ReorderCommandType }
func (d *ReorderRequestDTO) validate() error {
	if d.Order == nil {
		return errors.New("missing order")
	}
	return nil
}

func (*UpdateRequestDTO) CommandType() CommandType { return UpdateCommandType }
func (d *UpdateRequestDTO) validate() error {
	if d.ID == colstore.NilNodeID {
		return errMissingID
	}
	return nil
}

func (d *BodyRequestDTO) CommandType() CommandType { return d.cmd }
func (d *BodyRequestDTO) validate() error {
	if d.ID == colstore.NilNodeID {
		return errMissingID
	}
	return nil
}

func (*DiscardResponseRequestDTO) CommandType() CommandType { return DiscardResponseCommandType }
func (d *DiscardResponseRequestDTO) validate() error {
	if d.ResponseID == "" {
		return errors.New("missing response id")
	}
	return nil
}

func (*StreamOpenRequestDTO) CommandType() CommandType { return StreamOpenCommandType }
func (d *StreamOpenRequestDTO) validate() error {
	switch d.Source.Type {
	case colstore.FileSourceType, colstore.RequestBodySourceType, colstore.ResponseSourceType:
		return nil
	}
	return fmt.Errorf("unknown source type %q", d.Source.Type)
}

func (*StreamAckRequestDTO) CommandType() CommandType { return StreamAckCommandType }
func (d *StreamAckRequestDTO) validate() error {
	if d.StreamID == 0 {
		return errors.New("missing stream id")
	}
	if d.Credits <= 0 {
		return fmt.Errorf("credits must be positive, got %d", d.Credits)
	}
	return nil
}

func (*StreamCloseRequestDTO) CommandType() CommandType { return StreamCloseCommandType }
func (d *StreamCloseRequestDTO) validate() error {
	if d.StreamID == 0 {
		return errors.New("missing stream id")
	}
	return nil
}

// StreamOpenResult is the reply to a stream-open command
type StreamOpenResult struct {
	StreamID uint64 `json:"streamId"`
}

// BodyResult is the reply to write-body and append-body commands
type BodyResult struct {
	Bytes int64 `json:"bytes"`
}
