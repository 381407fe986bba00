package upload

import (
	"context"
	"io"
	"sync"
)

// Workspace tracks the data root the next run reads from.
type Workspace struct {
	mu        sync.RWMutex
	root      string
	uploadDir string
	maxBytes  int64
}

func NewWorkspace(defaultRoot, uploadDir string, maxBytes int64) *Workspace {
	return &Workspace{
		root:      defaultRoot,
		uploadDir: uploadDir,
		maxBytes:  maxBytes,
	}
}

func (w *Workspace) Root() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.root
}

// Replace extracts the archive into the upload directory and points the
// workspace at it.
func (w *Workspace) Replace(ctx context.Context, r io.ReaderAt, size int64) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	root, err := Extract(ctx, r, size, w.uploadDir, w.maxBytes)
	if err != nil {
		return "", err
	}
	w.root = root
	return root, nil
}
