package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	key := "payment-proofs/1/2/receipt.pdf"

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Put(ctx, key, strings.NewReader("first"), "application/pdf"))
	require.NoError(t, store.Put(ctx, key, strings.NewReader("second"), "application/pdf"))

	rc, err := store.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrObjectNotFound)

	assert.NoError(t, store.HealthCheck(ctx))
}

func TestFileSystemStoreRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "/etc/passwd", "../outside", "a/../../b"} {
		t.Run(key, func(t *testing.T) {
			assert.Error(t, store.Put(ctx, key, strings.NewReader("x"), "text/plain"))
		})
	}
}

func TestProofKey(t *testing.T) {
	a := ProofKey(7, 12, "Scan Of Receipt.PDF")
	b := ProofKey(7, 12, "Scan Of Receipt.PDF")

	assert.True(t, strings.HasPrefix(a, "payment-proofs/7/12/"))
	assert.True(t, strings.HasSuffix(a, ".pdf"))
	assert.NotEqual(t, a, b)
	assert.NoError(t, validKey(a))

	assert.True(t, strings.HasPrefix(ProofKey(1, 1, `..\..\evil.png`), "payment-proofs/1/1/"))
}

func TestNewSelectsBackend(t *testing.T) {
	store, err := New(context.Background(), Config{Type: "filesystem", FilesystemRoot: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileSystemStore{}, store)

	_, err = New(context.Background(), Config{Type: "ftp"})
	assert.Error(t, err)
}
