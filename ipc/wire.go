// Package ipc carries commands, replies and stream events between the
// consuming and producing processes as newline delimited JSON.
package ipc

import (
	"encoding/json"
	"errors"

	"github.com/brettbedarf/colstore"
	"github.com/brettbedarf/colstore/collection"
	"github.com/brettbedarf/colstore/stream"
)

// FrameKind valid kinds are ReplyFrame and EventFrame
type FrameKind string

const (
	ReplyFrame FrameKind = "reply"
	EventFrame FrameKind = "event"
)

// Frame is one producer to consumer line
type Frame struct {
	Kind   FrameKind       `json:"kind"`
	Seq    uint64          `json:"seq,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
	Event  *stream.Event   `json:"event,omitempty"`
}

// ErrorKind classifies a failed command on the wire
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not-found"
	KindInvalidName       ErrorKind = "invalid-name"
	KindNameCollision     ErrorKind = "name-collision"
	KindInvalidParent     ErrorKind = "invalid-parent"
	KindWrongVariant      ErrorKind = "wrong-variant"
	KindInvalidOrder      ErrorKind = "invalid-order"
	KindUnsupportedSource ErrorKind = "unsupported-source"
	KindLocked            ErrorKind = "locked"
	KindClosed            ErrorKind = "closed"
	KindSchema            ErrorKind = "schema"
	KindSave              ErrorKind = "save"
	KindBadRequest        ErrorKind = "bad-request"
	KindInternal          ErrorKind = "internal"
)

type ErrorBody struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

var kindSentinels = map[ErrorKind]error{
	KindNotFound:      collection.ErrNotFound,
	KindInvalidName:   collection.ErrInvalidName,
	KindNameCollision: collection.ErrNameCollision,
	KindInvalidParent: collection.ErrInvalidParent,
	KindWrongVariant:  collection.ErrWrongVariant,
	KindInvalidOrder:  collection.ErrInvalidOrder,
	KindLocked:        collection.ErrLocked,
	KindClosed:        collection.ErrStoreClosed,
}

// classify maps a handler error onto its wire kind. An unsupported source
// wins over whatever caused it.
func classify(err error) ErrorKind {
	var ue *colstore.UnsupportedSourceError
	if errors.As(err, &ue) {
		return KindUnsupportedSource
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	var se *collection.SchemaError
	var save *collection.SaveError
	var bad *BadRequestError
	switch {
	case errors.As(err, &se):
		return KindSchema
	case errors.As(err, &save):
		return KindSave
	case errors.As(err, &bad):
		return KindBadRequest
	}
	return KindInternal
}

// RemoteError is a failed command as seen by the client. errors.Is matches
// the collection sentinel of its kind.
type RemoteError struct {
	Kind    ErrorKind
	Message string
}

func (e *RemoteError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *RemoteError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// BadRequestError is a command line that could not be decoded
type BadRequestError struct {
	Err error
}

func (e *BadRequestError) Error() string {
	return "bad request: " + e.Err.Error()
}

func (e *BadRequestError) Unwrap() error { return e.Err }
