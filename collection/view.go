package collection

import (
	"maps"
	"slices"

	"github.com/brettbedarf/colstore"
)

// NodeView is an immutable snapshot of a node handed to callers outside the
// store's writer goroutine. Children are in display order.
type NodeView struct {
	ID        colstore.NodeID              `json:"id"`
	ParentID  colstore.NodeID              `json:"parentId"`
	Type      colstore.NodeType            `json:"type"`
	Title     string                       `json:"title"`
	DirName   string                       `json:"dirName"`
	DirPath   string                       `json:"dirPath"`
	URL       string                       `json:"url,omitempty"`
	Method    colstore.Method              `json:"method,omitempty"`
	Headers   []colstore.Header            `json:"headers,omitempty"`
	Body      *colstore.Body               `json:"body,omitempty"`
	Variables map[string]colstore.Variable `json:"variables,omitempty"`
	Children  []*NodeView                  `json:"children,omitempty"`
}

// Child returns the direct child with the given dirName
func (v *NodeView) Child(dirName string) (*NodeView, bool) {
	for _, c := range v.Children {
		if c.DirName == dirName {
			return c, true
		}
	}
	return nil, false
}

// view snapshots n and, when deep, its whole subtree.
// Secret variable values are masked.
func (t *tree) view(n *Node, deep bool) *NodeView {
	v := &NodeView{
		ID:       n.id,
		ParentID: n.parentID,
		Type:     n.nodeType,
		Title:    n.title,
		DirName:  n.dirName,
		DirPath:  t.dirPath(n),
		URL:      n.url,
		Method:   n.method,
		Headers:  slices.Clone(n.headers),
	}
	if n.body != nil {
		b := *n.body
		v.Body = &b
	}
	if n.variables != nil {
		v.Variables = maps.Clone(n.variables)
		for k, vr := range v.Variables {
			if vr.Secret {
				vr.Value = ""
				v.Variables[k] = vr
			}
		}
	}
	if deep {
		v.Children = make([]*NodeView, 0, len(n.order))
		for _, name := range n.order {
			if c, ok := t.nodes[n.children[name]]; ok {
				v.Children = append(v.Children, t.view(c, true))
			}
		}
	}
	return v
}
