package collection

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidName   = errors.New("title does not produce a usable directory name")
	ErrNameCollision = errors.New("a sibling with the same directory name exists")
	ErrNotFound      = errors.New("node not found")
	ErrInvalidParent = errors.New("invalid parent for operation")
	ErrWrongVariant  = errors.New("field does not apply to node type")
	ErrInvalidOrder  = errors.New("order is not a permutation of the children")
	ErrStoreClosed   = errors.New("collection store is closed")
	ErrLocked        = errors.New("collection is opened by another writer")
)

// LoadError is fatal to a collection load: the root info file is missing or corrupt
type LoadError struct {
	Root string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load collection %s: %v", e.Root, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SaveError is a failed structural or persist operation. The in-memory tree is
// left in its pre-call state unless noted on the operation.
type SaveError struct {
	Op   string
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

func saveErr(op, path string, err error) error {
	return &SaveError{Op: op, Path: path, Err: err}
}

// SchemaError is a malformed info or order file. During a load it only
// drops the offending node or order entries.
type SchemaError struct {
	Path   string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	msg := "schema error"
	if e.Path != "" {
		msg += " in " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaError) Unwrap() error { return e.Err }
