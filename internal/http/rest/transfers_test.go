package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/telemetry"
	"github.com/italolelis/syncbox/internal/transfer"
)

type memRecords struct {
	mu      sync.Mutex
	records map[string]transfer.Record
	order   []string
}

func newMemRecords(recs ...transfer.Record) *memRecords {
	m := &memRecords{records: map[string]transfer.Record{}}
	for _, r := range recs {
		m.records[r.OcID] = r
		m.order = append(m.order, r.OcID)
	}

	return m
}

func (m *memRecords) Query(_ context.Context, f storage.Filter) ([]transfer.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []transfer.Record

	for _, id := range m.order {
		rec, ok := m.records[id]
		if !ok || rec.Account != f.Account {
			continue
		}

		if len(f.Statuses) > 0 && !contains(f.Statuses, rec.Status) {
			continue
		}

		out = append(out, rec)
	}

	return out, nil
}

func contains(statuses []transfer.Status, s transfer.Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}

	return false
}

func (m *memRecords) Get(_ context.Context, ocID string) (transfer.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[ocID]
	if !ok {
		return transfer.Record{}, fmt.Errorf("%w: %s", storage.ErrNotFound, ocID)
	}

	return rec, nil
}

func (m *memRecords) CountStatus(context.Context, string, ...transfer.Status) (int, error) {
	return 0, nil
}

func (m *memRecords) Insert(_ context.Context, rec transfer.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[rec.OcID] = rec
	m.order = append(m.order, rec.OcID)

	return nil
}

func (m *memRecords) SetStatus(_ context.Context, ocID string, status transfer.Status, upd storage.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[ocID]
	if !ok {
		return storage.ErrNotFound
	}

	if !transfer.CanTransition(rec.Status, status) {
		return storage.ErrInvalidTransition
	}

	rec.Status = status
	rec.ErrorMessage = upd.ErrorMessage
	m.records[ocID] = rec

	return nil
}

func (m *memRecords) Forget(_ context.Context, rec transfer.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, rec.OcID)

	return nil
}

type fixedBadge int64

func (b fixedBadge) Badge() int64 { return int64(b) }

func newTestServer(t *testing.T, records *memRecords, sync SyncFunc) *httptest.Server {
	t.Helper()

	if sync == nil {
		sync = func(context.Context) error { return nil }
	}

	h := NewTransferHandler("acc", records, records, fixedBadge(7), sync)
	h.newID = func() string { return "new-id" }

	srv := httptest.NewServer(NewRouter(h, nil))
	t.Cleanup(srv.Close)

	return srv
}

func rec(ocID string, status transfer.Status) transfer.Record {
	return transfer.Record{
		OcID: ocID, Account: "acc", ServerURL: "/Docs", FileName: ocID + ".txt",
		Status: status, Selector: transfer.SelectorOfflineSync,
	}
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestListTransfers(t *testing.T) {
	other := rec("foreign", transfer.StatusWaitUpload)
	other.Account = "someone-else"

	records := newMemRecords(
		rec("a", transfer.StatusWaitDownload),
		rec("b", transfer.StatusDownloadError),
		rec("c", transfer.StatusNormal),
		other,
	)
	srv := newTestServer(t, records, nil)

	resp := do(t, http.MethodGet, srv.URL+"/transfers", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(telemetry.RequestIDHeader))

	var body struct {
		Transfers []TransferView `json:"transfers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Transfers, 3)

	resp = do(t, http.MethodGet, srv.URL+"/transfers?status=download-error,normal", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Transfers, 2)
	assert.Equal(t, "b", body.Transfers[0].OcID)
	assert.Equal(t, "download-error", body.Transfers[0].Status)

	resp = do(t, http.MethodGet, srv.URL+"/transfers?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEnqueueUpload(t *testing.T) {
	records := newMemRecords()
	srv := newTestServer(t, records, nil)

	resp := do(t, http.MethodPost, srv.URL+"/uploads", `{"localPath":"/photos/IMG_1.jpg","serverUrl":"/Photos"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	got, err := records.Get(context.Background(), "new-id")
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusWaitUpload, got.Status)
	assert.Equal(t, transfer.SelectorManualUpload, got.Selector)
	assert.Equal(t, "IMG_1.jpg", got.FileName)
	assert.Equal(t, "/photos/IMG_1.jpg", got.LocalPath)

	resp = do(t, http.MethodPost, srv.URL+"/uploads", `{"serverUrl":"/Photos"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/uploads", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEnqueueDownload(t *testing.T) {
	records := newMemRecords()
	srv := newTestServer(t, records, nil)

	resp := do(t, http.MethodPost, srv.URL+"/downloads", `{"serverUrl":"/Docs","fileName":"a.pdf","size":10}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var view TransferView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "wait-download", view.Status)
	assert.Equal(t, "offline-sync", view.Selector)

	got, err := records.Get(context.Background(), "new-id")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Size)
}

func TestRetryTransfer(t *testing.T) {
	failed := rec("failed", transfer.StatusUploadError)
	failed.ErrorMessage = "quota"

	records := newMemRecords(failed, rec("busy", transfer.StatusUploading))
	srv := newTestServer(t, records, nil)

	resp := do(t, http.MethodPost, srv.URL+"/transfers/failed/retry", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := records.Get(context.Background(), "failed")
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusWaitUpload, got.Status)
	assert.Empty(t, got.ErrorMessage)

	resp = do(t, http.MethodPost, srv.URL+"/transfers/busy/retry", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/transfers/missing/retry", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRetryTransfer_FailedAction(t *testing.T) {
	folder := rec("folder", transfer.StatusActionError)
	folder.FailedAction = transfer.StatusWaitCreateFolder

	records := newMemRecords(folder, rec("unknown", transfer.StatusActionError))
	srv := newTestServer(t, records, nil)

	resp := do(t, http.MethodPost, srv.URL+"/transfers/folder/retry", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := records.Get(context.Background(), "folder")
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusWaitCreateFolder, got.Status)

	resp = do(t, http.MethodPost, srv.URL+"/transfers/unknown/retry", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "an action error without its operation cannot be re-armed")
}

func TestCancelTransfer(t *testing.T) {
	records := newMemRecords(rec("waiting", transfer.StatusWaitDownload), rec("busy", transfer.StatusDownloading))
	srv := newTestServer(t, records, nil)

	resp := do(t, http.MethodDelete, srv.URL+"/transfers/waiting", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err := records.Get(context.Background(), "waiting")
	require.ErrorIs(t, err, storage.ErrNotFound)

	resp = do(t, http.MethodDelete, srv.URL+"/transfers/busy", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetBadge(t *testing.T) {
	srv := newTestServer(t, newMemRecords(), nil)

	resp := do(t, http.MethodGet, srv.URL+"/badge", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(7), body["pending"])
}

func TestSync(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, http.StatusNoContent},
		{"store held by another pass", fmt.Errorf("open: %w", storage.ErrStoreUnavailable), http.StatusConflict},
		{"pass failed", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, newMemRecords(), func(context.Context) error { return tt.err })

			resp := do(t, http.MethodPost, srv.URL+"/sync", "")
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestOperationalEndpoints(t *testing.T) {
	srv := newTestServer(t, newMemRecords(), nil)

	resp := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "metrics are off without telemetry")
}
