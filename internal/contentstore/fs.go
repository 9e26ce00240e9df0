package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/psds-microservice/helpdesk-service/internal/errs"
)

// Dir stores objects as files under a root directory. Writes replace files
// atomically; the revision check is serialised by an in-process mutex, so a
// single Dir must own the directory.
type Dir struct {
	root string
	mu   sync.Mutex
}

func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, errors.New("contentstore: dir root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("contentstore: create root: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) abs(p string) string {
	return filepath.Join(d.root, filepath.FromSlash(clean(p)))
}

func (d *Dir) Get(_ context.Context, p string) (*Object, error) {
	data, err := os.ReadFile(d.abs(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("contentstore: read %s: %w", p, err)
	}
	return &Object{Path: clean(p), Data: data, SHA: BlobSHA(data)}, nil
}

func (d *Dir) Put(_ context.Context, p string, data []byte, sha, _ string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	target := d.abs(p)
	cur, err := os.ReadFile(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if sha != "" {
			return "", &errs.ConflictError{Path: clean(p), Expected: sha}
		}
	case err != nil:
		return "", fmt.Errorf("contentstore: read %s: %w", p, err)
	default:
		if BlobSHA(cur) != sha {
			return "", &errs.ConflictError{Path: clean(p), Expected: sha}
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("contentstore: mkdir for %s: %w", p, err)
	}
	if err := atomic.WriteFile(target, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("contentstore: write %s: %w", p, err)
	}
	return BlobSHA(data), nil
}

func (d *Dir) List(_ context.Context, dir string) ([]Entry, error) {
	items, err := os.ReadDir(d.abs(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("contentstore: list %s: %w", dir, err)
	}
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		typ := EntryFile
		if it.IsDir() {
			typ = EntryDir
		}
		out = append(out, Entry{Name: it.Name(), Path: path.Join(clean(dir), it.Name()), Type: typ})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
