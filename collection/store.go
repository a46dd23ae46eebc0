package collection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/brettbedarf/colstore"
	"github.com/brettbedarf/colstore/config"
	"github.com/brettbedarf/colstore/internal/util"
)

// RemoveHook is told about every node id dropped by a remove, descendants
// included. Hooks run on the store's writer goroutine and must not call
// back into the store.
type RemoveHook func(removed []colstore.NodeID)

// Store mirrors one collection directory tree in memory. Every mutation is
// executed by a single writer goroutine, so concurrent callers are queued
// rather than interleaved.
type Store struct {
	cfg    *config.Config
	root   string
	rootID colstore.NodeID
	cipher colstore.SecretCipher
	tree   *tree // owned by the writer goroutine
	lock   *writerLock

	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	hooksMu     sync.Mutex
	removeHooks []*RemoveHook
}

// Create initializes a new collection at root and opens it.
// It fails if root already holds a collection info file.
func Create(cfg *config.Config, root, title string, cipher colstore.SecretCipher) (*Store, error) {
	logger := util.GetLogger("Collection.Create")

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, saveErr("create", root, err)
	}
	infoPath := filepath.Join(root, cfg.InfoFileName)
	if exists(infoPath) {
		return nil, saveErr("create", root, fmt.Errorf("%w: collection already exists", ErrNameCollision))
	}
	if err := os.MkdirAll(root, os.FileMode(cfg.DirPerms)); err != nil {
		return nil, saveErr("create", root, err)
	}

	n := newNode(colstore.CollectionNodeType, title, filepath.Base(root))
	data, err := EncodeInfo(n.info())
	if err != nil {
		return nil, saveErr("create", root, err)
	}
	if err := writeFileAtomic(infoPath, data, os.FileMode(cfg.FilePerms)); err != nil {
		return nil, saveErr("create", infoPath, err)
	}
	order, _ := EncodeOrder(nil)
	if err := writeFileAtomic(filepath.Join(root, cfg.OrderFileName), order, os.FileMode(cfg.FilePerms)); err != nil {
		return nil, saveErr("create", root, err)
	}

	logger.Info().Str("root", root).Str("title", title).Msg("Created collection")
	return Open(cfg, root, cipher)
}

// Open takes the collection's writer lock, loads the tree at root and starts
// the writer goroutine. cipher may be nil, in which case secret variable
// values are never persisted.
func Open(cfg *config.Config, root string, cipher colstore.SecretCipher) (*Store, error) {
	logger := util.GetLogger("Collection.Open")

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, &LoadError{Root: root, Err: err}
	}
	if st, err := os.Stat(root); err != nil {
		return nil, &LoadError{Root: root, Err: err}
	} else if !st.IsDir() {
		return nil, &LoadError{Root: root, Err: fmt.Errorf("not a directory")}
	}

	lock, err := acquireWriterLock(filepath.Join(root, cfg.LockFileName))
	if err != nil {
		return nil, &LoadError{Root: root, Err: err}
	}

	t, l, err := loadTree(cfg, root)
	if err != nil {
		lock.release() // nolint:errcheck
		return nil, err
	}

	s := &Store{
		cfg:    cfg,
		root:   root,
		rootID: t.rootID,
		cipher: cipher,
		tree:   t,
		lock:   lock,
		ops:    make(chan func()),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.loadSecrets()

	go s.run()
	logger.Info().
		Str("root", root).
		Int("nodes", len(t.nodes)).
		Int("skipped", l.skipped).
		Int("healedOrders", l.healed).
		Msg("Opened collection")
	return s, nil
}

func (s *Store) loadSecrets() {
	if s.cipher == nil {
		return
	}
	logger := util.GetLogger("Collection.Secrets")
	path := filepath.Join(s.root, s.cfg.SecretsFileName)
	sealed, err := readSecrets(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Ignoring unreadable secrets file")
		return
	}
	if err := revealSecrets(s.tree.root().variables, sealed, s.cipher); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Some secrets could not be decrypted")
	}
}

func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.ops:
			fn()
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the writer goroutine and waits for its result. Once fn has
// been accepted it always runs to completion, even if ctx is cancelled.
func (s *Store) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case s.ops <- func() { errc <- fn() }:
	case <-s.quit:
		return ErrStoreClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

// Close stops the writer goroutine and releases the writer lock. Safe to call
// more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done
		err = s.lock.release()
		logger := util.GetLogger("Collection.Close")
		logger.Debug().Str("root", s.root).Msg("Closed collection")
	})
	return err
}

// Root returns the absolute collection directory
func (s *Store) Root() string {
	return s.root
}

// RootID returns the id of the collection node
func (s *Store) RootID() colstore.NodeID {
	return s.rootID
}

// OnRemove registers hook to be told about removed nodes. The returned
// func unregisters it.
func (s *Store) OnRemove(hook RemoveHook) (unregister func()) {
	h := &hook
	s.hooksMu.Lock()
	s.removeHooks = append(s.removeHooks, h)
	s.hooksMu.Unlock()
	return func() {
		s.hooksMu.Lock()
		defer s.hooksMu.Unlock()
		s.removeHooks = slices.DeleteFunc(s.removeHooks, func(x *RemoveHook) bool { return x == h })
	}
}

func (s *Store) fireRemove(ids []colstore.NodeID) {
	s.hooksMu.Lock()
	hooks := slices.Clone(s.removeHooks)
	s.hooksMu.Unlock()
	for _, h := range hooks {
		(*h)(ids)
	}
}

// Tree returns a snapshot of the whole collection in display order
func (s *Store) Tree(ctx context.Context) (*NodeView, error) {
	var v *NodeView
	err := s.do(ctx, func() error {
		v = s.tree.view(s.tree.root(), true)
		return nil
	})
	return v, err
}

// Node returns a snapshot of the node id and its subtree
func (s *Store) Node(ctx context.Context, id colstore.NodeID) (*NodeView, error) {
	var v *NodeView
	err := s.do(ctx, func() error {
		n, ok := s.tree.get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		v = s.tree.view(n, true)
		return nil
	})
	return v, err
}

// Add creates a folder or request named title under parentID: directory,
// info file and parent order entry on disk, then the in-memory child.
func (s *Store) Add(ctx context.Context, parentID colstore.NodeID, nodeType colstore.NodeType, title string) (*NodeView, error) {
	logger := util.GetLogger("Store.Add")

	var view *NodeView
	err := s.do(ctx, func() error {
		parent, ok := s.tree.get(parentID)
		if !ok {
			return saveErr("add", "", fmt.Errorf("%w: %s", ErrNotFound, parentID))
		}
		parentDir := s.tree.dirPath(parent)
		if (nodeType != colstore.FolderNodeType && nodeType != colstore.RequestNodeType) || !parent.canHaveChildren() {
			return saveErr("add", parentDir, fmt.Errorf("%w: %s under %s", ErrInvalidParent, nodeType, parent.nodeType))
		}
		dirName := NameToDirName(title)
		if dirName == "" || dirName == s.cfg.DraftDirName {
			return saveErr("add", parentDir, fmt.Errorf("%w: %q", ErrInvalidName, title))
		}
		dir := filepath.Join(parentDir, dirName)
		if _, taken := parent.children[dirName]; taken {
			return saveErr("add", dir, ErrNameCollision)
		}

		if err := os.Mkdir(dir, os.FileMode(s.cfg.DirPerms)); err != nil {
			if errors.Is(err, os.ErrExist) {
				err = fmt.Errorf("%w: %w", ErrNameCollision, err)
			}
			return saveErr("add", dir, err)
		}

		child := newNode(nodeType, title, dirName)
		order := append(slices.Clone(parent.order), dirName)
		err := s.writeInfo(child, dir)
		if err == nil && nodeType == colstore.FolderNodeType {
			err = s.writeOrder(dir, nil)
		}
		if err == nil {
			err = s.writeOrder(parentDir, order)
		}
		if err != nil {
			os.RemoveAll(dir) // nolint:errcheck
			return saveErr("add", dir, err)
		}

		s.tree.attach(parent, child)
		parent.order = order
		view = s.tree.view(child, true)
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Str("parent", parentID.String()).Str("title", title).Msg("Failed to add node")
		return nil, err
	}
	logger.Debug().Str("path", view.DirPath).Str("type", string(nodeType)).Msg("Added node")
	return view, nil
}

// Rename gives id a new title and moves its directory to the matching
// dirName with a single rename call. If anything on disk fails the node is
// left exactly as it was. When the dirName does not change, or for the
// collection root, only the title is updated.
func (s *Store) Rename(ctx context.Context, id colstore.NodeID, newTitle string) error {
	logger := util.GetLogger("Store.Rename")

	err := s.do(ctx, func() error {
		n, ok := s.tree.get(id)
		if !ok {
			return saveErr("rename", "", fmt.Errorf("%w: %s", ErrNotFound, id))
		}
		newDirName := NameToDirName(newTitle)
		if newDirName == "" || newDirName == s.cfg.DraftDirName {
			return saveErr("rename", s.tree.dirPath(n), fmt.Errorf("%w: %q", ErrInvalidName, newTitle))
		}
		if n.isRoot() || newDirName == n.dirName {
			if n.title == newTitle {
				return nil
			}
			return s.persistLocked("rename", n, func(n *Node) { n.title = newTitle })
		}

		parent := s.tree.nodes[n.parentID]
		oldDir := s.tree.dirPath(n)
		parentDir := filepath.Dir(oldDir)
		newDir := filepath.Join(parentDir, newDirName)
		if _, taken := parent.children[newDirName]; taken || exists(newDir) {
			return saveErr("rename", newDir, ErrNameCollision)
		}

		if err := os.Rename(oldDir, newDir); err != nil {
			return saveErr("rename", oldDir, err)
		}

		oldTitle := n.title
		order := replaceOrderEntry(parent.order, n.dirName, newDirName)
		n.title = newTitle
		err := s.writeInfo(n, newDir)
		if err == nil {
			err = s.writeOrder(parentDir, order)
		}
		if err != nil {
			n.title = oldTitle
			s.undoRename(newDir, oldDir, n)
			return saveErr("rename", oldDir, err)
		}

		delete(parent.children, n.dirName)
		parent.children[newDirName] = n.id
		parent.order = order
		n.dirName = newDirName
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Str("id", id.String()).Str("title", newTitle).Msg("Failed to rename node")
		return err
	}
	logger.Debug().Str("id", id.String()).Str("title", newTitle).Msg("Renamed node")
	return nil
}

// undoRename moves a directory back after a failed rename or move and
// restores its info file
func (s *Store) undoRename(from, to string, n *Node) {
	logger := util.GetLogger("Store.Rollback")
	if err := os.Rename(from, to); err != nil {
		logger.Error().Err(err).Str("from", from).Str("to", to).Msg("Failed to roll back directory rename; disk and memory now differ")
		return
	}
	if n != nil {
		if err := s.writeInfo(n, to); err != nil {
			logger.Error().Err(err).Str("dir", to).Msg("Failed to restore info file")
		}
	}
}

// Move reattaches id under newParentID. The physical rename happens first;
// the in-memory tree only changes once disk is consistent, so a failed move
// leaves both untouched.
func (s *Store) Move(ctx context.Context, id, newParentID colstore.NodeID) error {
	logger := util.GetLogger("Store.Move")

	err := s.do(ctx, func() error {
		n, ok := s.tree.get(id)
		if !ok {
			return saveErr("move", "", fmt.Errorf("%w: %s", ErrNotFound, id))
		}
		newParent, ok := s.tree.get(newParentID)
		if !ok {
			return saveErr("move", "", fmt.Errorf("%w: %s", ErrNotFound, newParentID))
		}
		if n.isRoot() {
			return saveErr("move", s.root, fmt.Errorf("%w: cannot move the collection root", ErrInvalidParent))
		}
		if newParent.id == n.parentID {
			return nil
		}
		if !newParent.canHaveChildren() || s.tree.isAncestor(n.id, newParent.id) {
			return saveErr("move", s.tree.dirPath(newParent), ErrInvalidParent)
		}

		oldParent := s.tree.nodes[n.parentID]
		oldDir := s.tree.dirPath(n)
		oldParentDir := filepath.Dir(oldDir)
		newParentDir := s.tree.dirPath(newParent)
		newDir := filepath.Join(newParentDir, n.dirName)
		if _, taken := newParent.children[n.dirName]; taken || exists(newDir) {
			return saveErr("move", newDir, ErrNameCollision)
		}

		if err := os.Rename(oldDir, newDir); err != nil {
			return saveErr("move", oldDir, err)
		}

		oldOrder := removeOrderEntry(oldParent.order, n.dirName)
		newOrder := append(slices.Clone(newParent.order), n.dirName)
		err := s.writeOrder(newParentDir, newOrder)
		if err == nil {
			if err = s.writeOrder(oldParentDir, oldOrder); err != nil {
				s.writeOrder(newParentDir, newParent.order) // nolint:errcheck
			}
		}
		if err != nil {
			s.undoRename(newDir, oldDir, nil)
			return saveErr("move", oldDir, err)
		}

		delete(oldParent.children, n.dirName)
		oldParent.order = oldOrder
		newParent.children[n.dirName] = n.id
		newParent.order = newOrder
		n.parentID = newParent.id
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Str("id", id.String()).Str("parent", newParentID.String()).Msg("Failed to move node")
		return err
	}
	logger.Debug().Str("id", id.String()).Str("parent", newParentID.String()).Msg("Moved node")
	return nil
}

// Remove deletes id's directory tree, its parent order entry and the node
// with all descendants. If the directory removal fails memory is untouched,
// though part of the subtree may already be gone from disk.
func (s *Store) Remove(ctx context.Context, id colstore.NodeID) error {
	logger := util.GetLogger("Store.Remove")

	var removed []colstore.NodeID
	err := s.do(ctx, func() error {
		n, ok := s.tree.get(id)
		if !ok {
			return saveErr("remove", "", fmt.Errorf("%w: %s", ErrNotFound, id))
		}
		if n.isRoot() {
			return saveErr("remove", s.root, fmt.Errorf("%w: cannot remove the collection root", ErrInvalidParent))
		}
		parent := s.tree.nodes[n.parentID]
		dir := s.tree.dirPath(n)
		parentDir := filepath.Dir(dir)

		if err := os.RemoveAll(dir); err != nil {
			return saveErr("remove", dir, err)
		}

		order := removeOrderEntry(parent.order, n.dirName)
		removed = s.tree.subtree(n.id)
		delete(parent.children, n.dirName)
		parent.order = order
		s.tree.forget(removed)
		s.fireRemove(removed)

		if err := s.writeOrder(parentDir, order); err != nil {
			// the node is gone from disk; the stale entry heals on next load
			return saveErr("remove", parentDir, err)
		}
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Str("id", id.String()).Msg("Failed to remove node")
		return err
	}
	logger.Debug().Str("id", id.String()).Int("removed", len(removed)).Msg("Removed node")
	return nil
}

// Reorder replaces the display order of parentID's children. dirNames must be
// a permutation of the current children.
func (s *Store) Reorder(ctx context.Context, parentID colstore.NodeID, dirNames []string) error {
	logger := util.GetLogger("Store.Reorder")

	err := s.do(ctx, func() error {
		parent, ok := s.tree.get(parentID)
		if !ok {
			return saveErr("reorder", "", fmt.Errorf("%w: %s", ErrNotFound, parentID))
		}
		dir := s.tree.dirPath(parent)
		if !isPermutation(dirNames, parent.children) {
			return saveErr("reorder", dir, ErrInvalidOrder)
		}
		order := slices.Clone(dirNames)
		if err := s.writeOrder(dir, order); err != nil {
			return saveErr("reorder", dir, err)
		}
		parent.order = order
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Str("parent", parentID.String()).Msg("Failed to reorder children")
		return err
	}
	logger.Debug().Str("parent", parentID.String()).Strs("order", dirNames).Msg("Reordered children")
	return nil
}

func isPermutation(names []string, children map[string]colstore.NodeID) bool {
	if len(names) != len(children) {
		return false
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := children[name]; !ok || seen[name] {
			return false
		}
		seen[name] = true
	}
	return true
}

// Update applies patch to id and persists its info file. A title change
// never renames the directory; use [Store.Rename] for that.
func (s *Store) Update(ctx context.Context, id colstore.NodeID, patch *Patch) (*NodeView, error) {
	logger := util.GetLogger("Store.Update")

	var view *NodeView
	err := s.do(ctx, func() error {
		n, ok := s.tree.get(id)
		if !ok {
			return saveErr("update", "", fmt.Errorf("%w: %s", ErrNotFound, id))
		}
		if err := patch.validate(n.nodeType); err != nil {
			return saveErr("update", s.tree.dirPath(n), err)
		}
		if err := s.persistLocked("update", n, patch.apply); err != nil {
			return err
		}
		view = s.tree.view(n, false)
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Str("id", id.String()).Msg("Failed to update node")
		return nil, err
	}
	logger.Debug().Str("id", id.String()).Msg("Updated node")
	return view, nil
}

// Persist rewrites the info file of id from its in-memory state
func (s *Store) Persist(ctx context.Context, id colstore.NodeID) error {
	return s.do(ctx, func() error {
		n, ok := s.tree.get(id)
		if !ok {
			return saveErr("persist", "", fmt.Errorf("%w: %s", ErrNotFound, id))
		}
		return s.persistLocked("persist", n, nil)
	})
}

// persistLocked applies mutate to n and writes its info file, restoring n if
// the write fails. Must run on the writer goroutine.
func (s *Store) persistLocked(op string, n *Node, mutate func(n *Node)) error {
	backup := n.clone()
	if mutate != nil {
		mutate(n)
	}
	dir := s.tree.dirPath(n)
	if err := s.writeInfo(n, dir); err != nil {
		*n = *backup
		return saveErr(op, dir, err)
	}
	return nil
}

func (s *Store) writeInfo(n *Node, dir string) error {
	info := n.info()
	if n.nodeType == colstore.CollectionNodeType {
		if err := s.writeSecrets(n, dir); err != nil {
			return err
		}
		info.Variables = redactSecrets(info.Variables)
	}
	data, err := EncodeInfo(info)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, s.cfg.InfoFileName), data, os.FileMode(s.cfg.FilePerms))
}

func (s *Store) writeSecrets(n *Node, dir string) error {
	if s.cipher == nil {
		return nil
	}
	path := filepath.Join(dir, s.cfg.SecretsFileName)
	sealed, err := sealSecrets(n.variables, s.cipher)
	if err != nil {
		return err
	}
	if len(sealed) == 0 && !exists(path) {
		return nil
	}
	data, err := encodeSecrets(sealed)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o600)
}

func (s *Store) writeOrder(dir string, order []string) error {
	data, err := EncodeOrder(order)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, s.cfg.OrderFileName), data, os.FileMode(s.cfg.FilePerms))
}
