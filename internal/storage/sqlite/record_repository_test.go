package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/transfer"
)

func newTestRepository(t *testing.T) *RecordRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return NewRecordRepository(db)
}

func record(ocID, name string, status transfer.Status) transfer.Record {
	return transfer.Record{
		OcID:      ocID,
		Account:   "acc",
		ServerURL: "/Camera Uploads",
		FileName:  name,
		Status:    status,
		Selector:  transfer.SelectorAutoUpload,
	}
}

func TestPing(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.Ping(context.Background()))
}

func TestPing_UnmigratedDatabase(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)

	defer db.Close()

	err = NewRecordRepository(db).Ping(context.Background())
	require.ErrorIs(t, err, storage.ErrStoreUnavailable)
}

func TestInitDB_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = InitDB(path)
	require.NoError(t, err)

	defer db.Close()

	require.NoError(t, NewRecordRepository(db).Ping(context.Background()))
}

func TestInsertAndGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rec := record("oc-1", "a.jpg", transfer.StatusWaitUpload)
	rec.Chunk = 0
	rec.Size = 42
	rec.CreationDate = created
	rec.AssetID = "asset-1"
	rec.LocalPath = "/media/a.jpg"
	rec.LivePhoto = true

	require.NoError(t, repo.Insert(ctx, rec))

	got, err := repo.Get(ctx, "oc-1")
	require.NoError(t, err)

	assert.Equal(t, rec.OcID, got.OcID)
	assert.Equal(t, transfer.StatusWaitUpload, got.Status)
	assert.Equal(t, transfer.SelectorAutoUpload, got.Selector)
	assert.Equal(t, int64(42), got.Size)
	assert.True(t, got.CreationDate.Equal(created))
	assert.True(t, got.ModificationDate.IsZero())
	assert.True(t, got.LivePhoto)
	assert.Equal(t, "/media/a.jpg", got.LocalPath)
	assert.False(t, got.UpdatedAt.IsZero())

	require.ErrorIs(t, repo.Insert(ctx, rec), storage.ErrDuplicate)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInsert_RejectsUnknownSelector(t *testing.T) {
	repo := newTestRepository(t)

	rec := record("oc-1", "a.jpg", transfer.StatusWaitUpload)
	rec.Selector = "bogus"

	require.Error(t, repo.Insert(context.Background(), rec))
}

func TestQuery(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	chunked := record("oc-4", "a-part.jpg", transfer.StatusWaitUpload)
	chunked.Chunk = 1

	manual := record("oc-5", "0.jpg", transfer.StatusWaitUpload)
	manual.Selector = transfer.SelectorManualUpload

	other := record("oc-6", "0.jpg", transfer.StatusWaitUpload)
	other.Account = "other"

	for _, r := range []transfer.Record{
		record("oc-1", "c.jpg", transfer.StatusWaitUpload),
		record("oc-2", "a.jpg", transfer.StatusWaitUpload),
		record("oc-3", "b.jpg", transfer.StatusNormal),
		chunked, manual, other,
	} {
		require.NoError(t, repo.Insert(ctx, r))
	}

	zero := 0

	got, err := repo.Query(ctx, storage.Filter{
		Account:  "acc",
		Statuses: []transfer.Status{transfer.StatusWaitUpload},
		Selector: transfer.SelectorAutoUpload,
		Chunk:    &zero,
		OrderBy:  storage.OrderFileName,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"oc-2", "oc-1"}, ocIDs(got))

	got, err = repo.Query(ctx, storage.Filter{
		Account:         "acc",
		ExcludeStatuses: []transfer.Status{transfer.StatusNormal},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"oc-1", "oc-2", "oc-4", "oc-5"}, ocIDs(got), "discovery order")

	got, err = repo.Query(ctx, storage.Filter{Account: "acc", OrderBy: storage.OrderFileName, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"oc-5", "oc-4"}, ocIDs(got))
}

func TestCountStatus(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, record("oc-1", "a", transfer.StatusUploading)))
	require.NoError(t, repo.Insert(ctx, record("oc-2", "b", transfer.StatusDownloading)))
	require.NoError(t, repo.Insert(ctx, record("oc-3", "c", transfer.StatusUploadError)))
	require.NoError(t, repo.Insert(ctx, record("oc-4", "d", transfer.StatusWaitUpload)))

	n, err := repo.CountStatus(ctx, "acc", transfer.StatusUploading, transfer.StatusDownloading)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.CountStatus(ctx, "acc", transfer.PendingStatuses()...)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "error records are not pending")

	n, err = repo.CountStatus(ctx, "acc")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSetStatus(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, record("oc-1", "a.jpg", transfer.StatusUploading)))

	require.NoError(t, repo.SetStatus(ctx, "oc-1", transfer.StatusUploadError, storage.Update{
		ErrorMessage: "quota exceeded", ErrorCode: 507,
	}))

	got, err := repo.Get(ctx, "oc-1")
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusUploadError, got.Status)
	assert.Equal(t, "quota exceeded", got.ErrorMessage)
	assert.Equal(t, 507, got.ErrorCode)

	require.NoError(t, repo.SetStatus(ctx, "oc-1", transfer.StatusWaitUpload, storage.Update{}))

	claimed, err := repo.Claim(ctx, "oc-1", transfer.StatusWaitUpload, transfer.StatusUploading)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, repo.SetStatus(ctx, "oc-1", transfer.StatusNormal, storage.Update{Etag: "e1", Size: 9}))

	got, err = repo.Get(ctx, "oc-1")
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusNormal, got.Status)
	assert.Equal(t, "e1", got.Etag)
	assert.Equal(t, int64(9), got.Size)
	assert.Empty(t, got.ErrorMessage, "success clears the last error")
	assert.Equal(t, "a.jpg", got.FileName, "empty update fields keep stored values")
}

func TestSetStatus_ActionErrorRemembersOperation(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	rec := record("oc-1", "a.jpg", transfer.StatusWaitRename)
	rec.Destination = "b.jpg"
	require.NoError(t, repo.Insert(ctx, rec))

	require.NoError(t, repo.SetStatus(ctx, "oc-1", transfer.StatusActionError, storage.Update{ErrorMessage: "locked", ErrorCode: 423}))

	got, err := repo.Get(ctx, "oc-1")
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusActionError, got.Status)
	assert.Equal(t, transfer.StatusWaitRename, got.FailedAction)

	next, ok := got.Rearm()
	require.True(t, ok)
	require.NoError(t, repo.SetStatus(ctx, "oc-1", next, storage.Update{}))

	got, err = repo.Get(ctx, "oc-1")
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusWaitRename, got.Status)
	assert.Empty(t, got.FailedAction)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, "b.jpg", got.Destination)
}

func TestSetStatus_InvalidTransition(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, record("oc-1", "a.jpg", transfer.StatusWaitUpload)))

	err := repo.SetStatus(ctx, "oc-1", transfer.StatusNormal, storage.Update{})
	require.ErrorIs(t, err, storage.ErrInvalidTransition)

	err = repo.SetStatus(ctx, "oc-1", transfer.StatusWaitUpload, storage.Update{})
	require.ErrorIs(t, err, storage.ErrInvalidTransition, "wait-upload never moves to itself")

	err = repo.SetStatus(ctx, "missing", transfer.StatusNormal, storage.Update{})
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, err := repo.Get(ctx, "oc-1")
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusWaitUpload, got.Status)
}

func TestClaim_OnlyOnce(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, record("oc-1", "a.jpg", transfer.StatusWaitUpload)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ok, err := repo.Claim(ctx, "oc-1", transfer.StatusWaitUpload, transfer.StatusUploading)
			assert.NoError(t, err)

			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, wins)

	_, err := repo.Claim(ctx, "oc-1", transfer.StatusWaitUpload, transfer.StatusDownloading)
	require.ErrorIs(t, err, storage.ErrInvalidTransition)
}

func TestDelete(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, record("oc-1", "a.jpg", transfer.StatusWaitUpload)))
	require.NoError(t, repo.Delete(ctx, "oc-1"))
	require.ErrorIs(t, repo.Delete(ctx, "oc-1"), storage.ErrNotFound)
}

func TestReplaceWithGroup(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	seed := record("seed", "IMG_1.HEIC", transfer.StatusWaitUpload)
	seed.LivePhoto = true
	require.NoError(t, repo.Insert(ctx, seed))

	still := record("still", "IMG_1.HEIC", transfer.StatusWaitUpload)
	still.LiveGroup = "g1"
	clip := record("clip", "IMG_1.MOV", transfer.StatusWaitUpload)
	clip.LiveGroup = "g1"

	require.NoError(t, repo.ReplaceWithGroup(ctx, "seed", []transfer.Record{still, clip}))

	_, err := repo.Get(ctx, "seed")
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, err := repo.Query(ctx, storage.Filter{Account: "acc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"still", "clip"}, ocIDs(got))
	assert.Equal(t, "g1", got[1].LiveGroup)
}

func TestReplaceWithGroup_RollsBack(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, record("seed", "IMG_1.HEIC", transfer.StatusWaitUpload)))
	require.NoError(t, repo.Insert(ctx, record("taken", "x", transfer.StatusNormal)))

	err := repo.ReplaceWithGroup(ctx, "seed", []transfer.Record{
		record("still", "IMG_1.HEIC", transfer.StatusWaitUpload),
		record("taken", "IMG_1.MOV", transfer.StatusWaitUpload),
	})
	require.ErrorIs(t, err, storage.ErrDuplicate)

	got, err := repo.Get(ctx, "seed")
	require.NoError(t, err, "seed survives a failed expansion")
	assert.Equal(t, transfer.StatusWaitUpload, got.Status)

	_, err = repo.Get(ctx, "still")
	require.ErrorIs(t, err, storage.ErrNotFound)

	err = repo.ReplaceWithGroup(ctx, "taken", nil)
	require.ErrorIs(t, err, storage.ErrInvalidTransition, "only wait-upload seeds expand")
}

func TestAssetLedger(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	known, err := repo.KnownAsset(ctx, "acc", "a")
	require.NoError(t, err)
	assert.False(t, known)

	require.NoError(t, repo.RememberAsset(ctx, "acc", "a"))
	require.NoError(t, repo.RememberAsset(ctx, "acc", "a"))

	known, err = repo.KnownAsset(ctx, "acc", "a")
	require.NoError(t, err)
	assert.True(t, known)

	known, err = repo.KnownAsset(ctx, "other", "a")
	require.NoError(t, err)
	assert.False(t, known)
}

func TestRearmStale(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return base }

	require.NoError(t, repo.Insert(ctx, record("up", "a", transfer.StatusUploading)))
	require.NoError(t, repo.Insert(ctx, record("down", "b", transfer.StatusDownloading)))

	repo.now = func() time.Time { return base.Add(2 * time.Hour) }
	require.NoError(t, repo.Insert(ctx, record("fresh", "c", transfer.StatusUploading)))

	n, err := repo.RearmStale(ctx, "acc", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for ocID, want := range map[string]transfer.Status{
		"up":    transfer.StatusWaitUpload,
		"down":  transfer.StatusWaitDownload,
		"fresh": transfer.StatusUploading,
	} {
		got, err := repo.Get(ctx, ocID)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, ocID)
	}
}

func TestAcquire(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	release, err := repo.Acquire(ctx, "acc", "pass-1", time.Hour)
	require.NoError(t, err)

	_, err = repo.Acquire(ctx, "acc", "pass-2", time.Hour)
	require.ErrorIs(t, err, storage.ErrStoreUnavailable, "a second pass is rejected")

	otherRelease, err := repo.Acquire(ctx, "other", "pass-2", time.Hour)
	require.NoError(t, err, "leases are per account")
	otherRelease()

	_, err = repo.Acquire(ctx, "acc", "pass-1", time.Hour)
	require.NoError(t, err, "the holder may renew")

	release()

	release, err = repo.Acquire(ctx, "acc", "pass-2", time.Hour)
	require.NoError(t, err)
	release()
}

func TestAcquire_TakesOverStaleLease(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return base }

	_, err := repo.Acquire(ctx, "acc", "dead-process", time.Hour)
	require.NoError(t, err)

	repo.now = func() time.Time { return base.Add(30 * time.Minute) }
	_, err = repo.Acquire(ctx, "acc", "pass-2", time.Hour)
	require.ErrorIs(t, err, storage.ErrStoreUnavailable)

	repo.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = repo.Acquire(ctx, "acc", "pass-2", time.Hour)
	require.NoError(t, err)
}

func TestAcquire_UnmigratedDatabase(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)

	defer db.Close()

	_, err = NewRecordRepository(db).Acquire(context.Background(), "acc", "p", time.Hour)
	require.ErrorIs(t, err, storage.ErrStoreUnavailable)
}

func TestInstrumentedStore_Delegates(t *testing.T) {
	store := NewInstrumentedStore(newTestRepository(t), nil)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Insert(ctx, record("oc-1", "a.jpg", transfer.StatusWaitUpload)))

	ok, err := store.Claim(ctx, "oc-1", transfer.StatusWaitUpload, transfer.StatusUploading)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := store.CountStatus(ctx, "acc", transfer.StatusUploading)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func ocIDs(recs []transfer.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.OcID)
	}

	return out
}
