package collection

import (
	"maps"
	"slices"

	"github.com/brettbedarf/colstore"
	"github.com/google/uuid"
)

// Node is one entry of the collection arena. Parent and children are ids,
// never pointers; path resolution is a walk of arena lookups.
//
// NOTE: Nodes are owned by the store's writer goroutine. They must not be
// read or written from anywhere else; hand out [NodeView] snapshots instead.
type Node struct {
	id       colstore.NodeID
	parentID colstore.NodeID // NilNodeID for the collection root
	// parentPath is the raw path reference above the root; only set on the root
	parentPath string
	nodeType   colstore.NodeType
	title      string
	dirName    string                     // stable until an explicit rename
	children   map[string]colstore.NodeID // by dirName
	order      []string                   // display order of children dirNames

	// Request fields
	url     string
	method  colstore.Method
	headers []colstore.Header
	body    *colstore.Body

	// Collection fields
	variables map[string]colstore.Variable
}

func newNode(nodeType colstore.NodeType, title, dirName string) *Node {
	n := &Node{
		id:       uuid.New(),
		nodeType: nodeType,
		title:    title,
		dirName:  dirName,
		children: make(map[string]colstore.NodeID),
	}
	switch nodeType {
	case colstore.RequestNodeType:
		n.method = colstore.MethodGet
	case colstore.CollectionNodeType:
		n.variables = make(map[string]colstore.Variable)
	}
	return n
}

// newNodeFromInfo builds a detached node from a decoded info file
func newNodeFromInfo(info *InfoFile, dirName string) *Node {
	n := newNode(info.Type, info.Title, dirName)
	switch info.Type {
	case colstore.RequestNodeType:
		n.url = info.URL
		if info.Method != "" {
			n.method = info.Method
		}
		n.headers = info.Headers
		n.body = info.Body
	case colstore.CollectionNodeType:
		if info.Variables != nil {
			n.variables = info.Variables
		}
	}
	return n
}

// info returns the persisted view of the node
func (n *Node) info() *InfoFile {
	return &InfoFile{
		Version:   InfoVersion,
		Title:     n.title,
		Type:      n.nodeType,
		URL:       n.url,
		Method:    n.method,
		Headers:   n.headers,
		Body:      n.body,
		Variables: n.variables,
	}
}

func (n *Node) isRoot() bool {
	return n.parentID == colstore.NilNodeID
}

// canHaveChildren reports whether n may own folders or requests
func (n *Node) canHaveChildren() bool {
	return n.nodeType != colstore.RequestNodeType
}

// clone copies the mutable fields so a failed persist can be undone
func (n *Node) clone() *Node {
	c := *n
	c.children = maps.Clone(n.children)
	c.order = slices.Clone(n.order)
	c.headers = slices.Clone(n.headers)
	c.variables = maps.Clone(n.variables)
	if n.body != nil {
		b := *n.body
		c.body = &b
	}
	return &c
}
