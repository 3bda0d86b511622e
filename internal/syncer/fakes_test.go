package syncer

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/italolelis/syncbox/internal/cache"
	"github.com/italolelis/syncbox/internal/discovery"
	"github.com/italolelis/syncbox/internal/notifier"
	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/storage/sqlite"
	"github.com/italolelis/syncbox/internal/transfer"
)

const testAccount = "acc"

// fakeRemote answers from in-memory tables keyed by remote path.
type fakeRemote struct {
	mu sync.Mutex

	present   map[string]bool
	existsErr map[string]error
	failures  map[string]error

	exists    []string
	uploads   []string
	downloads []string
	folders   []string
	deleted   []string
	renamed   map[string]string
	favorites map[string]bool

	onUpload   func(n int)
	onDownload func(n int)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		present:   map[string]bool{},
		existsErr: map[string]error{},
		failures:  map[string]error{},
		renamed:   map[string]string{},
		favorites: map[string]bool{},
	}
}

func serverError(op, p string) error {
	return &transfer.RemoteError{Op: op, Path: p, StatusCode: http.StatusInternalServerError, Message: "boom"}
}

func (f *fakeRemote) failure(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.failures[p]
}

func (f *fakeRemote) Exists(_ context.Context, p string) (transfer.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.exists = append(f.exists, p)

	if err := f.existsErr[p]; err != nil {
		return transfer.RemoteFile{}, err
	}

	if f.present[p] {
		return transfer.RemoteFile{Path: p, Etag: "remote"}, nil
	}

	return transfer.RemoteFile{}, transfer.NotFound("exists", p)
}

func (f *fakeRemote) Upload(_ context.Context, _, p string, progress transfer.ProgressFunc) (transfer.RemoteFile, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, p)
	n := len(f.uploads)
	hook := f.onUpload
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	if err := f.failure(p); err != nil {
		return transfer.RemoteFile{}, err
	}

	progress(4, 4)

	return transfer.RemoteFile{Path: p, Size: 4, Etag: "etag-" + filepath.Base(p)}, nil
}

func (f *fakeRemote) Download(_ context.Context, p, localPath string, progress transfer.ProgressFunc) (transfer.RemoteFile, error) {
	f.mu.Lock()
	f.downloads = append(f.downloads, p)
	n := len(f.downloads)
	hook := f.onDownload
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	if err := f.failure(p); err != nil {
		return transfer.RemoteFile{}, err
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return transfer.RemoteFile{}, err
	}

	if err := os.WriteFile(localPath, []byte("data"), 0o644); err != nil {
		return transfer.RemoteFile{}, err
	}

	progress(4, 4)

	return transfer.RemoteFile{Path: p, Size: 4, Etag: "etag-" + filepath.Base(p)}, nil
}

func (f *fakeRemote) CreateFolder(_ context.Context, p string) error {
	f.mu.Lock()
	f.folders = append(f.folders, p)
	f.mu.Unlock()

	return f.failure(p)
}

func (f *fakeRemote) Delete(_ context.Context, p string) error {
	if err := f.failure(p); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, p)

	return nil
}

func (f *fakeRemote) Rename(_ context.Context, p, newName string) error {
	if err := f.failure(p); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.renamed[p] = newName

	return nil
}

func (f *fakeRemote) Move(_ context.Context, p, _ string) error {
	return f.failure(p)
}

func (f *fakeRemote) Copy(_ context.Context, p, _ string) error {
	return f.failure(p)
}

func (f *fakeRemote) SetFavorite(_ context.Context, p string, favorite bool) error {
	if err := f.failure(p); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.favorites[p] = favorite

	return nil
}

func (f *fakeRemote) counts() (exists, uploads, downloads, folders int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.exists), len(f.uploads), len(f.downloads), len(f.folders)
}

type recordingSink struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (r *recordingSink) Report(e notifier.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
}

func (r *recordingSink) all() []notifier.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]notifier.Event(nil), r.events...)
}

// passthrough expands nothing.
type passthrough struct{}

func (passthrough) Expand(_ context.Context, rec transfer.Record) ([]transfer.Record, error) {
	return []transfer.Record{rec}, nil
}

type staticMotion struct {
	motion discovery.Motion
	err    error
}

func (s staticMotion) MotionResource(context.Context, transfer.Record) (discovery.Motion, error) {
	return s.motion, s.err
}

type countingCleaner struct {
	calls int
}

func (c *countingCleaner) DeleteExpiredPayloads(context.Context, Expiration) (int, error) {
	c.calls++

	return 3, nil
}

type failingScanner struct{}

func (failingScanner) Discover(context.Context) (int, error) {
	return 1, os.ErrPermission
}

type harness struct {
	store    *sqlite.RecordRepository
	remote   *fakeRemote
	sink     *recordingSink
	cache    cache.Cache
	executor *Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	h := &harness{
		store:  sqlite.NewRecordRepository(db),
		remote: newFakeRemote(),
		sink:   &recordingSink{},
		cache:  cache.New(t.TempDir()),
	}
	h.executor = NewExecutor(h.store, h.remote, h.cache, h.sink, nil, time.Minute)

	return h
}

func (h *harness) orchestrator(maxConcurrent int, expander Expander, opts ...Option) *Orchestrator {
	if expander == nil {
		expander = passthrough{}
	}

	return NewOrchestrator(h.store, expander, h.executor, h.remote, Config{
		Account:       testAccount,
		MaxConcurrent: maxConcurrent,
		Holder:        "test",
		LeaseTTL:      time.Hour,
	}, opts...)
}

func (h *harness) insert(t *testing.T, recs ...transfer.Record) {
	t.Helper()

	for _, rec := range recs {
		require.NoError(t, h.store.Insert(context.Background(), rec))
	}
}

func (h *harness) status(t *testing.T, ocID string) transfer.Status {
	t.Helper()

	rec, err := h.store.Get(context.Background(), ocID)
	require.NoError(t, err)

	return rec.Status
}

func (h *harness) absent(t *testing.T, ocID string) {
	t.Helper()

	_, err := h.store.Get(context.Background(), ocID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func upload(ocID, name string, sel transfer.Selector) transfer.Record {
	return transfer.Record{
		OcID:      ocID,
		Account:   testAccount,
		ServerURL: "/Camera Uploads/2024/05",
		FileName:  name,
		Status:    transfer.StatusWaitUpload,
		Selector:  sel,
		LocalPath: "/library/" + name,
	}
}

func download(ocID, name string) transfer.Record {
	return transfer.Record{
		OcID:      ocID,
		Account:   testAccount,
		ServerURL: "/Documents",
		FileName:  name,
		Status:    transfer.StatusWaitDownload,
		Selector:  transfer.SelectorDownload,
	}
}

func action(ocID, name string, status transfer.Status, destination string) transfer.Record {
	return transfer.Record{
		OcID:        ocID,
		Account:     testAccount,
		ServerURL:   "/Documents",
		FileName:    name,
		Status:      status,
		Selector:    transfer.SelectorOfflineSync,
		Destination: destination,
	}
}
