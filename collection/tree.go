package collection

import (
	"path/filepath"
	"slices"

	"github.com/brettbedarf/colstore"
)

// tree is the node arena of a single collection
type tree struct {
	nodes  map[colstore.NodeID]*Node
	rootID colstore.NodeID
}

func newTree(root *Node) *tree {
	return &tree{
		nodes:  map[colstore.NodeID]*Node{root.id: root},
		rootID: root.id,
	}
}

func (t *tree) root() *Node {
	return t.nodes[t.rootID]
}

func (t *tree) get(id colstore.NodeID) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// parentDirPath resolves the directory that contains n
func (t *tree) parentDirPath(n *Node) string {
	if n.isRoot() {
		return n.parentPath
	}
	return t.dirPath(t.nodes[n.parentID])
}

// dirPath resolves the absolute directory of n by walking the parent chain
func (t *tree) dirPath(n *Node) string {
	parts := []string{n.dirName}
	cur := n
	for !cur.isRoot() {
		cur = t.nodes[cur.parentID]
		parts = append(parts, cur.dirName)
	}
	parts = append(parts, cur.parentPath)
	slices.Reverse(parts)
	return filepath.Join(parts...)
}

// attach registers child in the arena under parent. order is not touched.
func (t *tree) attach(parent, child *Node) {
	child.parentID = parent.id
	parent.children[child.dirName] = child.id
	t.nodes[child.id] = child
}

// subtree returns id and every descendant id, parents first
func (t *tree) subtree(id colstore.NodeID) []colstore.NodeID {
	ids := []colstore.NodeID{id}
	for i := 0; i < len(ids); i++ {
		n := t.nodes[ids[i]]
		for _, cid := range n.children {
			ids = append(ids, cid)
		}
	}
	return ids
}

// isAncestor reports whether a is b or one of b's ancestors
func (t *tree) isAncestor(a, b colstore.NodeID) bool {
	for cur := b; cur != colstore.NilNodeID; {
		if cur == a {
			return true
		}
		cur = t.nodes[cur].parentID
	}
	return false
}

// forget drops ids from the arena
func (t *tree) forget(ids []colstore.NodeID) {
	for _, id := range ids {
		delete(t.nodes, id)
	}
}

// replaceOrderEntry returns a copy of order with old replaced by repl in place
func replaceOrderEntry(order []string, old, repl string) []string {
	out := slices.Clone(order)
	if i := slices.Index(out, old); i >= 0 {
		out[i] = repl
	} else {
		out = append(out, repl)
	}
	return out
}

// removeOrderEntry returns a copy of order without name
func removeOrderEntry(order []string, name string) []string {
	return slices.DeleteFunc(slices.Clone(order), func(s string) bool { return s == name })
}
