package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStorePutGetRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	key := TemplateParsedKey("t-1", 1)
	payload := []byte(`{"blocks":[]}`)

	require.NoError(t, store.Put(ctx, key, payload, ContentTypeJSON))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	ct, err := store.ContentType(key)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, ct)
}

func TestFSStoreGetMissingReturnsNotFound(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.Get(context.Background(), "templates/none/1/parsed.json")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestFSStoreExists(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	key := DocumentOutputKey("d-1", 1)

	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, key, []byte("docx"), ContentTypeWordprocessingML))

	ok, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFSStoreDelete(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	key := DocumentOutputKey("d-1", 2)
	require.NoError(t, store.Put(ctx, key, []byte("data"), ContentTypeWordprocessingML))

	deleted, err := store.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, key)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestFSStorePutOverwrites(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	key := TemplateSourceKey("t-1", 1)
	require.NoError(t, store.Put(ctx, key, []byte("v1"), ContentTypeWordprocessingML))
	require.NoError(t, store.Put(ctx, key, []byte("v2"), ContentTypeWordprocessingML))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestFSStoreRejectsTraversalKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	err = store.Put(context.Background(), "../escape", []byte("x"), ContentTypeJSON)
	assert.Error(t, err)

	_, err = store.Get(context.Background(), "")
	assert.Error(t, err)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "templates/t-9/3/source.docx", TemplateSourceKey("t-9", 3))
	assert.Equal(t, "templates/t-9/3/parsed.json", TemplateParsedKey("t-9", 3))
	assert.Equal(t, "documents/d-4/7/output.docx", DocumentOutputKey("d-4", 7))
}

func TestMemStoreBehavesLikeFSStore(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	key := DocumentOutputKey("d-1", 1)
	require.NoError(t, store.Put(ctx, key, []byte("bytes"), ContentTypeWordprocessingML))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), got)

	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	deleted, err := store.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.Get(ctx, key)
	assert.True(t, IsNotFound(err))
}
