package contentstore

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
)

// Memory keeps objects in process. Used by tests and STORE_BACKEND=memory.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]Object
	commits []string
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]Object)}
}

func (m *Memory) Get(_ context.Context, p string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[clean(p)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, errs.ErrNotFound)
	}
	data := make([]byte, len(obj.Data))
	copy(data, obj.Data)
	return &Object{Path: obj.Path, Data: data, SHA: obj.SHA}, nil
}

func (m *Memory) Put(_ context.Context, p string, data []byte, sha, message string) (string, error) {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.objects[p]
	if exists && cur.SHA != sha || !exists && sha != "" {
		return "", &errs.ConflictError{Path: p, Expected: sha}
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	newSHA := BlobSHA(buf)
	m.objects[p] = Object{Path: p, Data: buf, SHA: newSHA}
	m.commits = append(m.commits, message)
	return newSHA, nil
}

func (m *Memory) List(_ context.Context, dir string) ([]Entry, error) {
	dir = clean(dir)
	prefix := dir + "/"
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]EntryType)
	for p := range m.objects {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		name, _, nested := strings.Cut(rest, "/")
		if nested {
			seen[name] = EntryDir
		} else if _, ok := seen[name]; !ok {
			seen[name] = EntryFile
		}
	}
	out := make([]Entry, 0, len(seen))
	for name, typ := range seen {
		out = append(out, Entry{Name: name, Path: path.Join(dir, name), Type: typ})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Commits returns the commit messages of all successful writes, oldest first.
func (m *Memory) Commits() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.commits...)
}

func clean(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}
