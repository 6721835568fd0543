package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutAndGet(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "raw/b.json", "application/json", strings.NewReader(`{"b":1}`))
	require.NoError(t, err)
	assert.Equal(t, "memory://raw/b.json", uri)
	_, err = store.PutObject(context.Background(), "raw/a.json", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)

	body, ok := store.Get("raw/b.json")
	require.True(t, ok)
	assert.Equal(t, `{"b":1}`, string(body))

	_, ok = store.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"raw/a.json", "raw/b.json"}, store.Paths())
	assert.NoError(t, store.Close())
}
