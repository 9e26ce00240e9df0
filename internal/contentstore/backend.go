package contentstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strconv"
)

// Backend stores blobs by path with content-SHA revisions. Implemented over
// the GitHub contents API, a local directory and memory.
type Backend interface {
	// Get returns errs.ErrNotFound when nothing is stored at path.
	Get(ctx context.Context, path string) (*Object, error)
	// Put creates the object when sha is empty, otherwise replaces it only if
	// the current revision equals sha. Mismatches return errs.ErrConflict.
	Put(ctx context.Context, path string, data []byte, sha, message string) (string, error)
	// List returns the immediate children of dir; a missing dir is empty.
	List(ctx context.Context, dir string) ([]Entry, error)
}

type Object struct {
	Path string
	Data []byte
	SHA  string
}

type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

type Entry struct {
	Name string
	Path string
	Type EntryType
}

// BlobSHA computes the git blob hash of data, so local backends produce the
// same revision markers as the hosted repository.
func BlobSHA(data []byte) string {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.Itoa(len(data)) + "\x00"))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
