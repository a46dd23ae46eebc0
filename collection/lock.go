package collection

import (
	"errors"
	"fmt"

	"github.com/juju/fslock"
)

// writerLock guards a collection root against a second writer process
type writerLock struct {
	lock *fslock.Lock
	path string
}

func acquireWriterLock(path string) (*writerLock, error) {
	l := fslock.New(path)
	if err := l.TryLock(); err != nil {
		if errors.Is(err, fslock.ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, err
	}
	return &writerLock{lock: l, path: path}, nil
}

func (w *writerLock) release() error {
	if w == nil {
		return nil
	}
	return w.lock.Unlock()
}
