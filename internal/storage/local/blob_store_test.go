package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ai-policy-docs/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "archive", "raw")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, store)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "not-a-dir")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("WritesNestedPage", func(t *testing.T) {
		path := "federal-register/run-1/search-page-0001.json"
		body := `{"results":[]}`
		uri, err := store.PutObject(ctx, path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(dir, path), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(dir, path))
		require.NoError(t, err)
		assert.Equal(t, body, string(got))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, " ", "application/json", strings.NewReader("{}"))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.json", "application/json", strings.NewReader("{}"))
		assert.Error(t, err)
	})

	assert.NoError(t, store.Close())
}
