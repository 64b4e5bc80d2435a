package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstrumentedBackend_WriteRead(t *testing.T) {
	ib := NewInstrumentedBackend(NewMemory(), "memory")
	ctx := context.Background()

	content := `{"guid":"a","title":"instrumented"}`
	require.NoError(t, ib.Write(ctx, "blobs/aa/entry", strings.NewReader(content)))

	rc, err := ib.Read(ctx, "blobs/aa/entry")
	require.NoError(t, err)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, content, string(got))
	require.NoError(t, rc.Close())
}

func TestInstrumentedBackend_Read_NotFound(t *testing.T) {
	ib := NewInstrumentedBackend(NewMemory(), "memory")

	_, err := ib.Read(context.Background(), "nonexistent/key")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInstrumentedBackend_ExistsDelete(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	ib := NewInstrumentedBackend(fs, "filesystem")
	ctx := context.Background()

	require.NoError(t, ib.Write(ctx, "del/key", strings.NewReader("data")))
	exists, err := ib.Exists(ctx, "del/key")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, ib.Delete(ctx, "del/key"))
	exists, err = ib.Exists(ctx, "del/key")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestInstrumentedBackend_ListSize(t *testing.T) {
	ib := NewInstrumentedBackend(NewMemory(), "memory")
	ctx := context.Background()

	require.NoError(t, ib.Write(ctx, "list/a", strings.NewReader("a")))
	require.NoError(t, ib.Write(ctx, "list/bb", strings.NewReader("bb")))

	keys, err := ib.List(ctx, "list")
	require.NoError(t, err)
	require.Equal(t, []string{"list/a", "list/bb"}, keys)

	size, err := ib.Size(ctx, "list/bb")
	require.NoError(t, err)
	require.Equal(t, int64(2), size)
}

func TestInstrumentedBackend_Unwrap(t *testing.T) {
	mem := NewMemory()
	ib := NewInstrumentedBackend(mem, "memory")
	require.Same(t, mem, ib.Unwrap())
}

func TestOutcomeFromError(t *testing.T) {
	require.Equal(t, "success", outcomeFromError(nil))
	require.Equal(t, "not_found", outcomeFromError(ErrNotFound))
	require.Equal(t, "not_found", outcomeFromError(fmt.Errorf("wrap: %w", ErrNotFound)))
	require.Equal(t, "error", outcomeFromError(errors.New("some other error")))
}
