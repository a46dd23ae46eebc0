package collection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/brettbedarf/colstore"
	"github.com/brettbedarf/colstore/internal/util"
)

// bodyTarget resolves where the body of request id lives. For text bodies
// the returned path is the request's body file.
func (s *Store) bodyTarget(ctx context.Context, op string, id colstore.NodeID) (*colstore.Body, string, error) {
	var (
		body *colstore.Body
		path string
	)
	err := s.do(ctx, func() error {
		n, ok := s.tree.get(id)
		if !ok {
			return saveErr(op, "", fmt.Errorf("%w: %s", ErrNotFound, id))
		}
		if n.nodeType != colstore.RequestNodeType {
			return saveErr(op, s.tree.dirPath(n), fmt.Errorf("%w: %s has no body", ErrWrongVariant, n.nodeType))
		}
		if n.body != nil {
			b := *n.body
			body = &b
		}
		path = filepath.Join(s.tree.dirPath(n), s.cfg.BodyFileName)
		if body != nil && body.Type == colstore.FileBodyType {
			path = body.FilePath
		}
		return nil
	})
	return body, path, err
}

// onTextBody runs fn on the writer with the current directory and body
// file of request id, which must carry a text body. Renames and moves
// cannot interleave with fn.
func (s *Store) onTextBody(ctx context.Context, op string, id colstore.NodeID, fn func(dir, path string) error) error {
	return s.do(ctx, func() error {
		n, ok := s.tree.get(id)
		if !ok {
			return saveErr(op, "", fmt.Errorf("%w: %s", ErrNotFound, id))
		}
		dir := s.tree.dirPath(n)
		if n.nodeType != colstore.RequestNodeType {
			return saveErr(op, dir, fmt.Errorf("%w: %s has no body", ErrWrongVariant, n.nodeType))
		}
		path := filepath.Join(dir, s.cfg.BodyFileName)
		if n.body == nil || n.body.Type != colstore.TextBodyType {
			return saveErr(op, path, fmt.Errorf("%w: request body is not text", ErrWrongVariant))
		}
		return fn(dir, path)
	})
}

// WriteBody replaces the text body of request id with the content of r.
// The content is streamed into a temp file inside the request directory
// and renamed into place on the writer, so readers never observe a partial
// body and a rename or move during the copy cannot strand the temp file.
func (s *Store) WriteBody(ctx context.Context, id colstore.NodeID, r io.Reader) (int64, error) {
	logger := util.GetLogger("Store.WriteBody")

	var tmp *os.File
	err := s.onTextBody(ctx, "write-body", id, func(dir, path string) error {
		var err error
		tmp, err = os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
		return err
	})
	if err != nil {
		return 0, err
	}
	tmpName := filepath.Base(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Chmod(os.FileMode(s.cfg.FilePerms))
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}

	var path string
	// the request directory may have moved while copying, so the temp file
	// is found again relative to where the node lives now
	serr := s.onTextBody(context.WithoutCancel(ctx), "write-body", id, func(dir, p string) error {
		path = p
		staged := filepath.Join(dir, tmpName)
		if err != nil {
			os.Remove(staged) // nolint:errcheck
			return nil
		}
		if rerr := os.Rename(staged, p); rerr != nil {
			os.Remove(staged) // nolint:errcheck
			return saveErr("write-body", p, rerr)
		}
		return nil
	})
	if errors.Is(serr, ErrStoreClosed) {
		os.Remove(tmp.Name()) // nolint:errcheck
	}
	if err != nil {
		err = saveErr("write-body", path, err)
	} else {
		err = serr
	}
	if err != nil {
		logger.Error().Err(err).Str("node", id.String()).Msg("Failed to write body")
		return n, err
	}
	logger.Debug().Str("path", path).Int64("bytes", n).Msg("Wrote body")
	return n, nil
}

// AppendBody appends the content of r to the text body of request id. The
// body file is opened on the writer so the handle always belongs to the
// node's current directory.
func (s *Store) AppendBody(ctx context.Context, id colstore.NodeID, r io.Reader) (int64, error) {
	logger := util.GetLogger("Store.AppendBody")

	var (
		f    *os.File
		path string
	)
	err := s.onTextBody(ctx, "append-body", id, func(_, p string) error {
		var err error
		path = p
		if f, err = os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_APPEND, os.FileMode(s.cfg.FilePerms)); err != nil {
			return saveErr("append-body", p, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to append body")
		return n, saveErr("append-body", path, err)
	}
	logger.Trace().Str("path", path).Int64("bytes", n).Msg("Appended body")
	return n, nil
}

// OpenBody opens the body content of request id for reading. A text body
// without a body file reads as empty; a missing external file is an
// [colstore.UnsupportedSourceError].
func (s *Store) OpenBody(ctx context.Context, id colstore.NodeID) (io.ReadCloser, error) {
	src := colstore.RequestBodySource(id)
	body, path, err := s.bodyTarget(ctx, "open-body", id)
	if err != nil {
		return nil, colstore.NewUnsupportedSourceError(src, "no such request", err)
	}
	if body == nil {
		return nil, colstore.NewUnsupportedSourceError(src, "request has no body", nil)
	}

	f, err := os.Open(path)
	if err == nil {
		return f, nil
	}
	if errors.Is(err, os.ErrNotExist) && body.Type == colstore.TextBodyType {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return nil, colstore.NewUnsupportedSourceError(src, "body file unavailable", err)
}

// Resolve implements [colstore.SourceResolver] for request body sources
func (s *Store) Resolve(ctx context.Context, src colstore.SourceDescriptor) (io.ReadCloser, error) {
	if src.Type != colstore.RequestBodySourceType {
		return nil, colstore.NewUnsupportedSourceError(src, "store only serves request bodies", nil)
	}
	return s.OpenBody(ctx, src.NodeID)
}

var _ colstore.SourceResolver = (*Store)(nil)

// RequestSpec returns the executable view of request id
func (s *Store) RequestSpec(ctx context.Context, id colstore.NodeID) (*colstore.RequestSpec, error) {
	var spec *colstore.RequestSpec
	err := s.do(ctx, func() error {
		n, ok := s.tree.get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if n.nodeType != colstore.RequestNodeType {
			return fmt.Errorf("%w: %s is not a request", ErrWrongVariant, n.nodeType)
		}
		spec = &colstore.RequestSpec{
			NodeID:  n.id,
			URL:     n.url,
			Method:  n.method,
			Headers: append([]colstore.Header(nil), n.headers...),
		}
		if n.body != nil {
			b := *n.body
			spec.Body = &b
			if b.Type == colstore.TextBodyType {
				spec.BodyPath = filepath.Join(s.tree.dirPath(n), s.cfg.BodyFileName)
			}
		}
		return nil
	})
	return spec, err
}

// Variables returns the enabled collection variables with secrets revealed
func (s *Store) Variables(ctx context.Context) (map[string]string, error) {
	vars := map[string]string{}
	err := s.do(ctx, func() error {
		for name, v := range s.tree.root().variables {
			if v.Enabled {
				vars[name] = v.Value
			}
		}
		return nil
	})
	return vars, err
}
