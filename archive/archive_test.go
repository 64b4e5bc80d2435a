package archive

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	feedarchive "github.com/wolfeidau/feed-archive"
)

func newTestDrive(t *testing.T, dir string) *Drive {
	t.Helper()
	d, err := OpenDrive(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func write(t *testing.T, a *Archive, name string, ctime int64, body string) *Record {
	t.Helper()
	rec, err := a.WriteFile(context.Background(), name, ctime, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return rec
}

func TestDriveCreateOwned(t *testing.T) {
	d := newTestDrive(t, "")
	require.True(t, d.Ephemeral())

	a, err := d.Create(context.Background())
	require.NoError(t, err)
	require.True(t, a.Owned())
	require.False(t, a.Key().IsZero())
}

func TestArchiveWriteReadFile(t *testing.T) {
	ctx := context.Background()
	a, err := newTestDrive(t, "").Create(ctx)
	require.NoError(t, err)

	rec := write(t, a, "a", 1577836800000, `{"guid":"a"}`)
	require.Equal(t, "a", rec.Name)
	require.Equal(t, int64(1577836800000), rec.CTime)
	require.Equal(t, "2020-01-01T00:00:00Z", rec.Time().Format("2006-01-02T15:04:05Z07:00"))
	require.Equal(t, feedarchive.HashBytes([]byte(`{"guid":"a"}`)), rec.Hash)

	f, err := a.ReadFile(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, `{"guid":"a"}`, string(f.Data))
	require.Equal(t, "application/json", f.ContentType)

	rc, err := a.OpenFile(ctx, "a")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, `{"guid":"a"}`, string(got))

	_, err = a.ReadFile(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveLaterWriteWins(t *testing.T) {
	ctx := context.Background()
	a, err := newTestDrive(t, "").Create(ctx)
	require.NoError(t, err)

	write(t, a, "_meta", 0, `{"title":"old"}`)
	write(t, a, "_meta", 0, `{"title":"new"}`)

	f, err := a.ReadFile(ctx, "_meta")
	require.NoError(t, err)
	require.Equal(t, `{"title":"new"}`, string(f.Data))

	recs, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestArchiveZeroCTime(t *testing.T) {
	rec := Record{Name: "undated"}
	require.True(t, rec.Time().IsZero())
}

func TestArchiveListPrefix(t *testing.T) {
	ctx := context.Background()
	a, err := newTestDrive(t, "").Create(ctx)
	require.NoError(t, err)

	write(t, a, "post-1", 0, "1")
	write(t, a, "post-2", 0, "2")
	write(t, a, "page-1", 0, "3")

	recs, err := a.List(ctx, WithPrefix("post-"))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "post-1", recs[0].Name)
	require.Equal(t, "post-2", recs[1].Name)
}

func TestReadOnlyHandle(t *testing.T) {
	ctx := context.Background()
	d := newTestDrive(t, "")

	owner, err := d.Create(ctx)
	require.NoError(t, err)
	write(t, owner, "a", 0, "first")

	reader, err := d.Open(ctx, owner.Key())
	require.NoError(t, err)
	require.False(t, reader.Owned())

	t.Run("writes are denied", func(t *testing.T) {
		_, err := reader.WriteFile(ctx, "b", 0, "", strings.NewReader("x"))
		require.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("only finalized records are visible", func(t *testing.T) {
		recs, err := reader.List(ctx)
		require.NoError(t, err)
		require.Empty(t, recs)

		require.NoError(t, owner.Finalize(ctx))

		recs, err = reader.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)

		f, err := reader.ReadFile(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, "first", string(f.Data))
	})
}

func TestDriveOpenUnknownKeyRegistersReplica(t *testing.T) {
	ctx := context.Background()
	d := newTestDrive(t, "")

	key, err := feedarchive.NewKey()
	require.NoError(t, err)

	a, err := d.Open(ctx, key)
	require.NoError(t, err)

	recs, err := a.List(ctx)
	require.NoError(t, err)
	require.Empty(t, recs)

	archives, err := d.Archives(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 1)
	require.False(t, archives[0].Owned)
}

func TestArchiveApply(t *testing.T) {
	ctx := context.Background()
	d := newTestDrive(t, "")

	key, err := feedarchive.NewKey()
	require.NoError(t, err)
	replica, err := d.Open(ctx, key)
	require.NoError(t, err)

	data := []byte(`{"guid":"a"}`)
	rec := Record{Name: "a", CTime: 42, Size: int64(len(data)), Hash: feedarchive.HashBytes(data), ContentType: "application/json"}

	t.Run("content must be on the drive", func(t *testing.T) {
		require.ErrorIs(t, replica.Apply(ctx, rec), ErrNotFound)
	})

	t.Run("tampered content is rejected", func(t *testing.T) {
		_, err := d.PutBlob(ctx, rec.Hash, rec.ContentType, []byte("tampered"))
		require.ErrorIs(t, err, ErrHashMismatch)
	})

	t.Run("applied records become visible once finalized", func(t *testing.T) {
		_, err := d.PutBlob(ctx, rec.Hash, rec.ContentType, data)
		require.NoError(t, err)

		ok, err := d.HasBlob(ctx, rec.Hash)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, replica.Apply(ctx, rec))
		require.NoError(t, replica.Finalize(ctx))

		f, err := replica.ReadFile(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, data, f.Data)
		require.Equal(t, int64(42), f.CTime)
	})

	t.Run("owned archives refuse applied records", func(t *testing.T) {
		owner, err := d.Create(ctx)
		require.NoError(t, err)
		require.ErrorIs(t, owner.Apply(ctx, rec), ErrOwned)

		view, err := d.Open(ctx, owner.Key())
		require.NoError(t, err)
		require.ErrorIs(t, view.Apply(ctx, rec), ErrOwned)
	})
}

func TestDriveLookup(t *testing.T) {
	ctx := context.Background()
	d := newTestDrive(t, "")

	owner, err := d.Create(ctx)
	require.NoError(t, err)

	a, err := d.Lookup(ctx, owner.Key())
	require.NoError(t, err)
	require.False(t, a.Owned())

	key, err := feedarchive.NewKey()
	require.NoError(t, err)
	_, err = d.Lookup(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	archives, err := d.Archives(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 1)
}

func TestPersistentDriveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	d, err := OpenDrive(dir)
	require.NoError(t, err)
	a, err := d.Create(ctx)
	require.NoError(t, err)
	write(t, a, "a", 0, "persisted")
	require.NoError(t, a.Finalize(ctx))
	key := a.Key()
	require.NoError(t, d.Close())

	d2 := newTestDrive(t, dir)
	reader, err := d2.Open(ctx, key)
	require.NoError(t, err)

	f, err := reader.ReadFile(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "persisted", string(f.Data))
}

func TestDriveBlob(t *testing.T) {
	ctx := context.Background()
	d := newTestDrive(t, "")
	a, err := d.Create(ctx)
	require.NoError(t, err)

	rec := write(t, a, "a", 0, "blob body")

	blob, err := d.Blob(ctx, rec.Hash)
	require.NoError(t, err)
	require.Equal(t, "blob body", string(blob.Data))

	_, err = d.Blob(ctx, feedarchive.HashBytes([]byte("missing")))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDriveResume(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	d, err := OpenDrive(dir)
	require.NoError(t, err)
	a, err := d.Create(ctx)
	require.NoError(t, err)
	write(t, a, "a", 0, "first")
	key := a.Key()
	require.NoError(t, d.Close())

	d2 := newTestDrive(t, dir)
	owned, err := d2.Resume(ctx, key)
	require.NoError(t, err)
	require.True(t, owned.Owned())
	write(t, owned, "b", 0, "second")

	records, err := owned.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	_, err = d2.Resume(ctx, feedarchive.Key(feedarchive.HashBytes([]byte("unknown"))))
	require.ErrorIs(t, err, ErrNotFound)

	replicaKey := feedarchive.Key(feedarchive.HashBytes([]byte("replica")))
	_, err = d2.Open(ctx, replicaKey)
	require.NoError(t, err)
	_, err = d2.Resume(ctx, replicaKey)
	require.ErrorIs(t, err, ErrPermissionDenied)
}
