package collection

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brettbedarf/colstore"
	"github.com/brettbedarf/colstore/config"
	"github.com/brettbedarf/colstore/internal/util"
)

// loader rebuilds an arena from a collection directory
type loader struct {
	cfg     *config.Config
	logger  util.Logger
	skipped int
	healed  int
}

// loadTree reads the whole collection rooted at root. Only a missing or
// corrupt root info file fails the load; everything below degrades to
// skipping the offending node.
func loadTree(cfg *config.Config, root string) (*tree, *loader, error) {
	l := &loader{cfg: cfg, logger: util.GetLogger("Collection.Load")}

	info, err := l.readInfo(root)
	if err != nil {
		return nil, nil, &LoadError{Root: root, Err: err}
	}
	if info.Type != colstore.CollectionNodeType {
		return nil, nil, &LoadError{Root: root, Err: &SchemaError{
			Path:   filepath.Join(root, cfg.InfoFileName),
			Reason: fmt.Sprintf("root is a %s, not a collection", info.Type),
		}}
	}

	rootNode := newNodeFromInfo(info, filepath.Base(root))
	rootNode.parentPath = filepath.Dir(root)
	t := newTree(rootNode)

	if err := l.loadChildren(t, rootNode, root); err != nil {
		return nil, nil, &LoadError{Root: root, Err: err}
	}
	return t, l, nil
}

func (l *loader) readInfo(dir string) (*InfoFile, error) {
	path := filepath.Join(dir, l.cfg.InfoFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info, err := DecodeInfo(data)
	if err != nil {
		var se *SchemaError
		if errors.As(err, &se) {
			se.Path = path
		}
		return nil, err
	}
	return info, nil
}

// loadChildren attaches every valid child directory of parent, recursing
// into folders, then reconciles the parent's order file
func (l *loader) loadChildren(t *tree, parent *Node, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		// dot entries are reserved (.secrets.bin, .lock, temp files), as is
		// the draft directory whatever it is named
		if !entry.IsDir() || strings.HasPrefix(name, ".") || name == l.cfg.DraftDirName {
			continue
		}
		childDir := filepath.Join(dir, name)

		info, err := l.readInfo(childDir)
		if err != nil {
			l.skipped++
			if errors.Is(err, os.ErrNotExist) {
				l.logger.Warn().Str("dir", childDir).Msg("Skipping directory without info file")
			} else {
				l.logger.Warn().Err(err).Str("dir", childDir).Msg("Skipping node with invalid info file")
			}
			continue
		}
		if info.Type == colstore.CollectionNodeType {
			l.skipped++
			l.logger.Warn().Str("dir", childDir).Msg("Skipping nested collection")
			continue
		}

		child := newNodeFromInfo(info, name)
		t.attach(parent, child)
		if child.canHaveChildren() {
			if err := l.loadChildren(t, child, childDir); err != nil {
				// an unreadable folder is dropped with its subtree
				l.skipped++
				l.logger.Warn().Err(err).Str("dir", childDir).Msg("Skipping unreadable folder")
				t.forget(t.subtree(child.id))
				delete(parent.children, name)
			}
		}
	}

	l.loadOrder(parent, dir)
	return nil
}

func (l *loader) loadOrder(n *Node, dir string) {
	path := filepath.Join(dir, l.cfg.OrderFileName)
	var listed []string
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if listed, err = DecodeOrder(data); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Ignoring malformed order file")
		}
	case !errors.Is(err, os.ErrNotExist):
		l.logger.Warn().Err(err).Str("path", path).Msg("Ignoring unreadable order file")
	}

	present := make(map[string]bool, len(n.children))
	for name := range n.children {
		present[name] = true
	}
	order, changed := healOrder(listed, present)
	n.order = order
	if !changed {
		return
	}

	l.healed++
	l.logger.Debug().Str("path", path).Strs("listed", listed).Strs("order", order).Msg("Healed order file")
	data, err = EncodeOrder(order)
	if err == nil {
		err = writeFileAtomic(path, data, os.FileMode(l.cfg.FilePerms))
	}
	if err != nil {
		l.logger.Warn().Err(err).Str("path", path).Msg("Failed to persist healed order file")
	}
}
