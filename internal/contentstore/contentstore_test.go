package contentstore

import (
	"context"
	"testing"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobSHA_MatchesGit(t *testing.T) {
	// git hash-object on an empty file and on "hello\n"
	assert.Equal(t, "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391", BlobSHA(nil))
	assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", BlobSHA([]byte("hello\n")))
}

// backendContract exercises the semantics every Backend must share.
func backendContract(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	_, err := b.Get(ctx, "tickets/a/data.json")
	require.ErrorIs(t, err, errs.ErrNotFound)

	sha1, err := b.Put(ctx, "tickets/a/data.json", []byte(`{"v":1}`), "", "create a")
	require.NoError(t, err)
	require.NotEmpty(t, sha1)

	obj, err := b.Get(ctx, "tickets/a/data.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(obj.Data))
	assert.Equal(t, sha1, obj.SHA)

	// create over an existing object
	_, err = b.Put(ctx, "tickets/a/data.json", []byte(`{"v":9}`), "", "create again")
	require.ErrorIs(t, err, errs.ErrConflict)

	sha2, err := b.Put(ctx, "tickets/a/data.json", []byte(`{"v":2}`), sha1, "update a")
	require.NoError(t, err)
	assert.NotEqual(t, sha1, sha2)

	// stale revision
	_, err = b.Put(ctx, "tickets/a/data.json", []byte(`{"v":3}`), sha1, "stale update")
	require.ErrorIs(t, err, errs.ErrConflict)

	// update of something that does not exist
	_, err = b.Put(ctx, "tickets/missing/data.json", []byte(`{}`), sha1, "ghost")
	require.ErrorIs(t, err, errs.ErrConflict)

	_, err = b.Put(ctx, "tickets/b/data.json", []byte(`{}`), "", "create b")
	require.NoError(t, err)
	_, err = b.Put(ctx, "lock-status.json", []byte(`{}`), "", "lock")
	require.NoError(t, err)

	entries, err := b.List(ctx, "tickets")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Name: "a", Path: "tickets/a", Type: EntryDir}, entries[0])
	assert.Equal(t, Entry{Name: "b", Path: "tickets/b", Type: EntryDir}, entries[1])

	root, err := b.List(ctx, "tickets/a")
	require.NoError(t, err)
	require.Len(t, root, 1)
	assert.Equal(t, EntryFile, root[0].Type)

	none, err := b.List(ctx, "nothing-here")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemory_Contract(t *testing.T) {
	m := NewMemory()
	backendContract(t, m)
	assert.Equal(t, []string{"create a", "update a", "create b", "lock"}, m.Commits())
}

func TestDir_Contract(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)
	backendContract(t, d)
}

func TestDir_EmptyRoot(t *testing.T) {
	_, err := NewDir("")
	assert.Error(t, err)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.Put(ctx, "x.json", []byte("abc"), "", "x")
	require.NoError(t, err)

	obj, err := m.Get(ctx, "x.json")
	require.NoError(t, err)
	obj.Data[0] = 'z'

	again, err := m.Get(ctx, "/x.json")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again.Data))
}
