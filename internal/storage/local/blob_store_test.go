package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/insights-collector/internal/storage/local"
)

func TestNewCreatesAndValidatesBaseDir(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "archive")
	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)
	require.NotNil(t, store)
	info, err := os.Stat(base)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	_, err = local.New(local.Config{})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = local.New(local.Config{BaseDir: file})
	require.Error(t, err)
}

func TestPutObjectWritesPayload(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)

	objectPath := "raw/job-1/trustpilot/abc.json"
	data := []byte(`{"pages":[]}`)
	uri, err := store.PutObject(context.Background(), objectPath, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(base, objectPath), uri)

	// #nosec G304 -- test reads from its own temp directory.
	written, err := os.ReadFile(filepath.Join(base, objectPath))
	require.NoError(t, err)
	require.Equal(t, data, written)
}

func TestPutObjectRejectsBadPaths(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "../escape.json", "", bytes.NewReader([]byte("{}")))
	require.ErrorContains(t, err, "path traversal")

	_, err = store.PutObject(context.Background(), "/etc/escape.json", "", bytes.NewReader([]byte("{}")))
	require.ErrorContains(t, err, "path traversal")
}

func TestPutObjectOverwritesWithoutLeftovers(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)

	for _, body := range []string{`{"v":1}`, `{"v":2}`} {
		_, err := store.PutObject(context.Background(), "job/google/x.json", "application/json", bytes.NewReader([]byte(body)))
		require.NoError(t, err)
	}
	entries, err := os.ReadDir(filepath.Join(base, "job", "google"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	// #nosec G304 -- test reads from its own temp directory.
	got, err := os.ReadFile(filepath.Join(base, "job", "google", "x.json"))
	require.NoError(t, err)
	require.JSONEq(t, `{"v":2}`, string(got))
}
