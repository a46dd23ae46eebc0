package adapters

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/brettbedarf/colstore"
)

// FileResolver serves file sources by absolute path
type FileResolver struct{}

func (FileResolver) Resolve(_ context.Context, src colstore.SourceDescriptor) (io.ReadCloser, error) {
	if src.Type != colstore.FileSourceType {
		return nil, colstore.NewUnsupportedSourceError(src, "not a file source", nil)
	}
	if !filepath.IsAbs(src.Path) {
		return nil, colstore.NewUnsupportedSourceError(src, "path must be absolute", nil)
	}
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, colstore.NewUnsupportedSourceError(src, "cannot open file", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close() // nolint:errcheck
		return nil, colstore.NewUnsupportedSourceError(src, "cannot stat file", err)
	}
	if st.IsDir() {
		f.Close() // nolint:errcheck
		return nil, colstore.NewUnsupportedSourceError(src, "path is a directory", nil)
	}
	return f, nil
}

var _ colstore.SourceResolver = FileResolver{}
