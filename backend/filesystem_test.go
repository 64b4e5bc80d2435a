package backend

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFilesystem(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive")

	fs, err := NewFilesystem(root)
	require.NoError(t, err)
	require.Equal(t, root, fs.Root())

	info, err := os.Stat(root)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

// backendFactories lets every behavioural test run against each backend.
func backendFactories(t *testing.T) map[string]func() SizeAwareBackend {
	t.Helper()
	return map[string]func() SizeAwareBackend{
		"filesystem": func() SizeAwareBackend {
			fs, err := NewFilesystem(t.TempDir())
			require.NoError(t, err)
			return fs
		},
		"memory": func() SizeAwareBackend {
			return NewMemory()
		},
	}
}

func TestBackendWriteRead(t *testing.T) {
	for name, newBackend := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			b := newBackend()
			ctx := context.Background()
			data := []byte(`{"guid":"a","title":"first"}`)

			require.NoError(t, b.Write(ctx, "blobs/ab/entry", bytes.NewReader(data)))

			rc, err := b.Read(ctx, "blobs/ab/entry")
			require.NoError(t, err)
			defer func() { _ = rc.Close() }()

			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.Equal(t, data, got)
		})
	}
}

func TestBackendReadNotFound(t *testing.T) {
	for name, newBackend := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := newBackend().Read(context.Background(), "nonexistent/key")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBackendExistsDelete(t *testing.T) {
	for name, newBackend := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			b := newBackend()
			ctx := context.Background()

			exists, err := b.Exists(ctx, "exists/test")
			require.NoError(t, err)
			require.False(t, exists)

			require.NoError(t, b.Write(ctx, "exists/test", bytes.NewReader([]byte("data"))))

			exists, err = b.Exists(ctx, "exists/test")
			require.NoError(t, err)
			require.True(t, exists)

			require.NoError(t, b.Delete(ctx, "exists/test"))
			exists, err = b.Exists(ctx, "exists/test")
			require.NoError(t, err)
			require.False(t, exists)

			// Deleting again is a no-op
			require.NoError(t, b.Delete(ctx, "exists/test"))
		})
	}
}

func TestBackendSize(t *testing.T) {
	for name, newBackend := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			b := newBackend()
			ctx := context.Background()
			data := bytes.Repeat([]byte("x"), 1234)

			require.NoError(t, b.Write(ctx, "size/test", bytes.NewReader(data)))

			size, err := b.Size(ctx, "size/test")
			require.NoError(t, err)
			require.Equal(t, int64(1234), size)

			_, err = b.Size(ctx, "size/missing")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBackendList(t *testing.T) {
	keys := []string{
		"blobs/aa/file1",
		"blobs/aa/file2",
		"blobs/bb/file3",
		"other/file4",
	}

	for name, newBackend := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			b := newBackend()
			ctx := context.Background()

			for _, key := range keys {
				require.NoError(t, b.Write(ctx, key, bytes.NewReader([]byte("data"))))
			}

			all, err := b.List(ctx, "")
			require.NoError(t, err)
			sort.Strings(all)
			require.Equal(t, keys, all)

			blobs, err := b.List(ctx, "blobs")
			require.NoError(t, err)
			sort.Strings(blobs)
			require.Equal(t, keys[:3], blobs)

			missing, err := b.List(ctx, "nothing")
			require.NoError(t, err)
			require.Empty(t, missing)
		})
	}
}

func TestBackendOverwrite(t *testing.T) {
	for name, newBackend := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			b := newBackend()
			ctx := context.Background()

			require.NoError(t, b.Write(ctx, "overwrite/test", bytes.NewReader([]byte("initial"))))
			newData := []byte("new content that is longer")
			require.NoError(t, b.Write(ctx, "overwrite/test", bytes.NewReader(newData)))

			rc, err := b.Read(ctx, "overwrite/test")
			require.NoError(t, err)
			defer func() { _ = rc.Close() }()

			got, _ := io.ReadAll(rc)
			require.Equal(t, newData, got)
		})
	}
}

func TestFilesystemListSkipsTempFiles(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "blobs/aa/real", bytes.NewReader([]byte("data"))))
	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), "blobs", "aa", ".tmp-123"), []byte("partial"), 0o644))

	keys, err := fs.List(ctx, "blobs")
	require.NoError(t, err)
	require.Equal(t, []string{"blobs/aa/real"}, keys)
}
