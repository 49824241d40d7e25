package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBehavesLikeRemoteStore(t *testing.T) {
	store := NewMemory(staticTokens())
	ctx := context.Background()

	rootID, err := store.EnsureFolder(ctx, "root", "")
	require.NoError(t, err)
	sameRoot, err := store.EnsureFolder(ctx, "root", "")
	require.NoError(t, err)
	assert.Equal(t, rootID, sameRoot)

	uploaded, err := store.UploadBlob(ctx, rootID, "entry.json", []byte(`{}`), ContentTypeJSON)
	require.NoError(t, err)
	_, err = store.UploadBlob(ctx, rootID, "entry.jpg", []byte{1}, ContentTypeJPEG)
	require.NoError(t, err)

	listed, err := store.ListJSONObjects(ctx, rootID)
	require.NoError(t, err)
	assert.Equal(t, []Object{uploaded}, listed)
	assert.Equal(t, []string{"entry.jpg", "entry.json"}, store.Names(rootID))

	_, err = store.UploadBlob(ctx, "missing-folder", "entry.json", nil, ContentTypeJSON)
	_, rejected := IsRemoteRejected(err)
	assert.True(t, rejected)

	signedOut := NewMemory(nil)
	_, err = signedOut.ListJSONObjects(ctx, rootID)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
