// Package colstore contains the domain types shared by the collection store,
// the streaming transport and the process boundary.
package colstore

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NodeID is the opaque runtime identifier of a node. It is never persisted.
type NodeID = uuid.UUID

// NilNodeID is the zero NodeID; it is the parent of a collection root.
var NilNodeID = uuid.Nil

// NodeType valid types are CollectionNodeType, FolderNodeType, RequestNodeType
type NodeType string

const (
	CollectionNodeType NodeType = "collection"
	FolderNodeType     NodeType = "folder"
	RequestNodeType    NodeType = "request"
)

// Valid reports whether t is a known node type
func (t NodeType) Valid() bool {
	switch t {
	case CollectionNodeType, FolderNodeType, RequestNodeType:
		return true
	}
	return false
}

// Method is an HTTP verb
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodOptions Method = "OPTIONS"
)

// ParseMethod normalizes s into a known Method
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodGet, MethodHead, MethodPost, MethodPut, MethodPatch, MethodDelete, MethodOptions:
		return m, nil
	}
	return "", fmt.Errorf("unknown http method: %q", s)
}

// Header is a single request header. Order within a request is significant.
type Header struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Enabled bool   `json:"enabled"`
}

// BodyType valid types are TextBodyType and FileBodyType
type BodyType string

const (
	// TextBodyType content lives in the request directory's body file
	TextBodyType BodyType = "text"
	// FileBodyType content is an external file referenced by absolute path
	FileBodyType BodyType = "file"
)

// Body is the tagged union describing where a request body comes from.
// Only MimeType is meaningful for text bodies, only FilePath for file bodies.
type Body struct {
	Type     BodyType `json:"type"`
	MimeType string   `json:"mimeType,omitempty"`
	FilePath string   `json:"filePath,omitempty"`
}

// TextBody returns a text body with the given mime type
func TextBody(mimeType string) *Body {
	return &Body{Type: TextBodyType, MimeType: mimeType}
}

// FileBody returns a body backed by the external file at path
func FileBody(path string) *Body {
	return &Body{Type: FileBodyType, FilePath: path}
}

// Variable is a collection scoped variable.
// Secret values are never written in clear to the info file.
type Variable struct {
	Value   string `json:"value"`
	Enabled bool   `json:"enabled"`
	Secret  bool   `json:"secret,omitempty"`
}
