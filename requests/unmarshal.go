package requests

import (
	"encoding/json"
	"fmt"
)

// Meta is the envelope shared by every command line
type Meta struct {
	Seq  uint64      `json:"seq"`
	Type CommandType `json:"type"`
}

// GetMeta extracts the sequence number and command type without full unmarshaling
func GetMeta(data []byte) (Meta, error) {
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

var factories = map[CommandType]func() Command{
	TreeCommandType:            func() Command { return &TreeRequestDTO{} },
	NodeCommandType:            func() Command { return &NodeRequestDTO{cmd: NodeCommandType} },
	RemoveCommandType:          func() Command { return &NodeRequestDTO{cmd: RemoveCommandType} },
	ExecuteCommandType:         func() Command { return &NodeRequestDTO{cmd: ExecuteCommandType} },
	AddCommandType:             func() Command { return &AddRequestDTO{} },
	RenameCommandType:          func() Command { return &RenameRequestDTO{} },
	MoveCommandType:            func() Command { return &MoveRequestDTO{} },
	ReorderCommandType:         func() Command { return &ReorderRequestDTO{} },
	UpdateCommandType:          func() Command { return &UpdateRequestDTO{} },
	WriteBodyCommandType:       func() Command { return &BodyRequestDTO{cmd: WriteBodyCommandType} },
	AppendBodyCommandType:      func() Command { return &BodyRequestDTO{cmd: AppendBodyCommandType} },
	DiscardResponseCommandType: func() Command { return &DiscardResponseRequestDTO{} },
	StreamOpenCommandType:      func() Command { return &StreamOpenRequestDTO{} },
	StreamCloseCommandType:     func() Command { return &StreamCloseRequestDTO{} },
	StreamAckCommandType:       func() Command { return &StreamAckRequestDTO{} },
}

// Unmarshal decodes a command line into the DTO its type names, applies
// defaults and validates required fields
func Unmarshal(data []byte) (Meta, Command, error) {
	meta, err := GetMeta(data)
	if err != nil {
		return meta, nil, err
	}
	newCmd, ok := factories[meta.Type]
	if !ok {
		return meta, nil, fmt.Errorf("unknown command type %q", meta.Type)
	}
	cmd := newCmd()
	if err := json.Unmarshal(data, cmd); err != nil {
		return meta, nil, err
	}
	if err := cmd.validate(); err != nil {
		return meta, nil, fmt.Errorf("invalid %s command: %w", meta.Type, err)
	}
	return meta, cmd, nil
}

// Marshal encodes cmd with its envelope
func Marshal(seq uint64, cmd Command) ([]byte, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	envelope, err := json.Marshal(Meta{Seq: seq, Type: cmd.CommandType()})
	if err != nil {
		return nil, err
	}
	return mergeObjects(envelope, body), nil
}

// mergeObjects joins two encoded JSON objects into one
func mergeObjects(a, b []byte) []byte {
	if len(b) <= 2 {
		return a
	}
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a[:len(a)-1]...)
	out = append(out, ',')
	out = append(out, b[1:]...)
	return out
}
