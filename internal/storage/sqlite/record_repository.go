package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/transfer"
)

const recordColumns = `oc_id, account, server_url, file_name, status, session_selector, chunk,
	size, etag, creation_date, modification_date, asset_id, local_path, live_photo,
	live_group, destination, error_message, error_code, failed_action, updated_at`

// RecordRepository stores transfer records in SQLite. It is safe for
// concurrent use; SQLite serializes the writers.
type RecordRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRecordRepository(dbConn *sql.DB) *RecordRepository {
	return &RecordRepository{db: dbConn, now: time.Now}
}

func (r *RecordRepository) Ping(ctx context.Context) error {
	return checkReady(ctx, r.db)
}

func (r *RecordRepository) Query(ctx context.Context, f storage.Filter) ([]transfer.Record, error) {
	var (
		where []string
		args  []any
	)

	if f.Account != "" {
		where = append(where, "account = ?")
		args = append(args, f.Account)
	}

	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		args = append(args, statusArgs(f.Statuses)...)
	}

	if len(f.ExcludeStatuses) > 0 {
		where = append(where, "status NOT IN ("+placeholders(len(f.ExcludeStatuses))+")")
		args = append(args, statusArgs(f.ExcludeStatuses)...)
	}

	if f.Selector != "" {
		where = append(where, "session_selector = ?")
		args = append(args, string(f.Selector))
	}

	if f.Chunk != nil {
		where = append(where, "chunk = ?")
		args = append(args, *f.Chunk)
	}

	var q strings.Builder

	q.WriteString("SELECT " + recordColumns + " FROM records")

	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	switch f.OrderBy {
	case storage.OrderFileName:
		q.WriteString(" ORDER BY file_name, id")
	case storage.OrderDiscovery, "":
		q.WriteString(" ORDER BY id")
	}

	if f.Limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []transfer.Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *RecordRepository) Get(ctx context.Context, ocID string) (transfer.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE oc_id = ?`, ocID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return transfer.Record{}, fmt.Errorf("%w: %s", storage.ErrNotFound, ocID)
	}

	return rec, err
}

func (r *RecordRepository) CountStatus(ctx context.Context, account string, statuses ...transfer.Status) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	args := append([]any{account}, statusArgs(statuses)...)

	var n int

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE account = ? AND status IN (`+placeholders(len(statuses))+`)`,
		args...,
	).Scan(&n)

	return n, err
}

func (r *RecordRepository) Insert(ctx context.Context, rec transfer.Record) error {
	return insertRecord(ctx, r.db, rec, r.now())
}

// SetStatus writes status together with upd, but only if the stored status
// may legally move to it.
func (r *RecordRepository) SetStatus(ctx context.Context, ocID string, status transfer.Status, upd storage.Update) error {
	from := predecessors(status)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing moves to %s", storage.ErrInvalidTransition, status)
	}

	args := []any{
		string(status), upd.Etag, upd.Etag, upd.Size, upd.Size,
		upd.FileName, upd.FileName, upd.ServerURL, upd.ServerURL,
		upd.ErrorMessage, upd.ErrorCode, string(status), string(transfer.StatusActionError),
		r.now().UnixNano(), ocID,
	}
	args = append(args, statusArgs(from)...)

	res, err := r.db.ExecContext(ctx, `
		UPDATE records SET
			status = ?,
			etag = CASE WHEN ? = '' THEN etag ELSE ? END,
			size = CASE WHEN ? = 0 THEN size ELSE ? END,
			file_name = CASE WHEN ? = '' THEN file_name ELSE ? END,
			server_url = CASE WHEN ? = '' THEN server_url ELSE ? END,
			error_message = ?,
			error_code = ?,
			failed_action = CASE WHEN ? = ? THEN status ELSE '' END,
			updated_at = ?
		WHERE oc_id = ? AND status IN (`+placeholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected > 0 {
		return nil
	}

	current, err := r.Get(ctx, ocID)
	if err != nil {
		return err
	}

	return fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, current.Status, status)
}

// Claim atomically moves the record from `from` to `to` if it is still in `from`.
func (r *RecordRepository) Claim(ctx context.Context, ocID string, from, to transfer.Status) (bool, error) {
	if !transfer.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, from, to)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE records SET status = ?, updated_at = ? WHERE oc_id = ? AND status = ?`,
		string(to), r.now().UnixNano(), ocID, string(from),
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (r *RecordRepository) Delete(ctx context.Context, ocID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE oc_id = ?`, ocID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, ocID)
	}

	return nil
}

func (r *RecordRepository) ReplaceWithGroup(ctx context.Context, seedOcID string, group []transfer.Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE oc_id = ? AND status = ?`, seedOcID, string(transfer.StatusWaitUpload))
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("%w: seed %s is not waiting for upload", storage.ErrInvalidTransition, seedOcID)
	}

	now := r.now()

	for _, rec := range group {
		if err := insertRecord(ctx, tx, rec, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *RecordRepository) KnownAsset(ctx context.Context, account, assetID string) (bool, error) {
	var n int

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM known_assets WHERE account = ? AND asset_id = ?`, account, assetID).Scan(&n)

	return n > 0, err
}

func (r *RecordRepository) RememberAsset(ctx context.Context, account, assetID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO known_assets (account, asset_id, remembered_at) VALUES (?, ?, ?)
		ON CONFLICT(account, asset_id) DO NOTHING`,
		account, assetID, r.now().UnixNano(),
	)

	return err
}

func (r *RecordRepository) RearmStale(ctx context.Context, account string, olderThan time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE records SET
			status = CASE status WHEN ? THEN ? ELSE ? END,
			updated_at = ?
		WHERE account = ? AND status IN (?, ?) AND updated_at < ?`,
		string(transfer.StatusUploading), string(transfer.StatusWaitUpload), string(transfer.StatusWaitDownload),
		r.now().UnixNano(), account,
		string(transfer.StatusUploading), string(transfer.StatusDownloading), olderThan.UnixNano(),
	)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()

	return int(affected), err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRecord(ctx context.Context, db execer, rec transfer.Record, now time.Time) error {
	if !rec.Selector.Valid() {
		return fmt.Errorf("invalid session selector %q", rec.Selector)
	}

	_, err := db.ExecContext(ctx, `INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OcID, rec.Account, rec.ServerURL, rec.FileName, string(rec.Status), string(rec.Selector), rec.Chunk,
		rec.Size, rec.Etag, unixNano(rec.CreationDate), unixNano(rec.ModificationDate), rec.AssetID, rec.LocalPath,
		rec.LivePhoto, rec.LiveGroup, rec.Destination, rec.ErrorMessage, rec.ErrorCode, string(rec.FailedAction),
		now.UnixNano(),
	)

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %s", storage.ErrDuplicate, rec.OcID)
	}

	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (transfer.Record, error) {
	var (
		rec                            transfer.Record
		status, selector, failedAction string
		created, modified, updatedNano int64
	)

	err := s.Scan(
		&rec.OcID, &rec.Account, &rec.ServerURL, &rec.FileName, &status, &selector, &rec.Chunk,
		&rec.Size, &rec.Etag, &created, &modified, &rec.AssetID, &rec.LocalPath, &rec.LivePhoto,
		&rec.LiveGroup, &rec.Destination, &rec.ErrorMessage, &rec.ErrorCode, &failedAction, &updatedNano,
	)
	if err != nil {
		return transfer.Record{}, err
	}

	rec.Status, err = transfer.ParseStatus(status)
	if err != nil {
		return transfer.Record{}, fmt.Errorf("record %s: %w", rec.OcID, err)
	}

	rec.Selector = transfer.Selector(selector)
	rec.FailedAction = transfer.Status(failedAction)
	rec.CreationDate = fromUnixNano(created)
	rec.ModificationDate = fromUnixNano(modified)
	rec.UpdatedAt = fromUnixNano(updatedNano)

	return rec, nil
}

// predecessors lists every status that may move to `to`.
func predecessors(to transfer.Status) []transfer.Status {
	var from []transfer.Status

	for _, s := range transfer.AllStatuses {
		if transfer.CanTransition(s, to) {
			from = append(from, s)
		}
	}

	return from
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs(statuses []transfer.Status) []any {
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}

	return args
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n).UTC()
}
