package sqlite

import (
	"context"
	"time"

	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/telemetry"
	"github.com/italolelis/syncbox/internal/transfer"
)

// InstrumentedStore wraps RecordRepository with telemetry.
type InstrumentedStore struct {
	repo      *RecordRepository
	telemetry *telemetry.Telemetry
}

var _ storage.Store = (*InstrumentedStore)(nil)

// NewInstrumentedStore creates a new instrumented store.
func NewInstrumentedStore(repo *RecordRepository, tel *telemetry.Telemetry) *InstrumentedStore {
	return &InstrumentedStore{repo: repo, telemetry: tel}
}

func (r *InstrumentedStore) Ping(ctx context.Context) error {
	return r.telemetry.InstrumentDBOperation(ctx, "ping", r.repo.Ping)
}

func (r *InstrumentedStore) Query(ctx context.Context, f storage.Filter) ([]transfer.Record, error) {
	var result []transfer.Record

	err := r.telemetry.InstrumentDBOperation(ctx, "query", func(ctx context.Context) error {
		var err error

		result, err = r.repo.Query(ctx, f)

		return err
	})

	return result, err
}

func (r *InstrumentedStore) Get(ctx context.Context, ocID string) (transfer.Record, error) {
	var result transfer.Record

	err := r.telemetry.InstrumentDBOperation(ctx, "get", func(ctx context.Context) error {
		var err error

		result, err = r.repo.Get(ctx, ocID)

		return err
	})

	return result, err
}

func (r *InstrumentedStore) CountStatus(ctx context.Context, account string, statuses ...transfer.Status) (int, error) {
	var result int

	err := r.telemetry.InstrumentDBOperation(ctx, "count_status", func(ctx context.Context) error {
		var err error

		result, err = r.repo.CountStatus(ctx, account, statuses...)

		return err
	})

	return result, err
}

func (r *InstrumentedStore) Insert(ctx context.Context, rec transfer.Record) error {
	return r.telemetry.InstrumentDBOperation(ctx, "insert", func(ctx context.Context) error {
		return r.repo.Insert(ctx, rec)
	})
}

func (r *InstrumentedStore) SetStatus(ctx context.Context, ocID string, status transfer.Status, upd storage.Update) error {
	return r.telemetry.InstrumentDBOperation(ctx, "set_status", func(ctx context.Context) error {
		return r.repo.SetStatus(ctx, ocID, status, upd)
	})
}

func (r *InstrumentedStore) Claim(ctx context.Context, ocID string, from, to transfer.Status) (bool, error) {
	var result bool

	err := r.telemetry.InstrumentDBOperation(ctx, "claim", func(ctx context.Context) error {
		var err error

		result, err = r.repo.Claim(ctx, ocID, from, to)

		return err
	})

	return result, err
}

func (r *InstrumentedStore) Delete(ctx context.Context, ocID string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete", func(ctx context.Context) error {
		return r.repo.Delete(ctx, ocID)
	})
}

func (r *InstrumentedStore) ReplaceWithGroup(ctx context.Context, seedOcID string, group []transfer.Record) error {
	return r.telemetry.InstrumentDBOperation(ctx, "replace_with_group", func(ctx context.Context) error {
		return r.repo.ReplaceWithGroup(ctx, seedOcID, group)
	})
}

func (r *InstrumentedStore) KnownAsset(ctx context.Context, account, assetID string) (bool, error) {
	var result bool

	err := r.telemetry.InstrumentDBOperation(ctx, "known_asset", func(ctx context.Context) error {
		var err error

		result, err = r.repo.KnownAsset(ctx, account, assetID)

		return err
	})

	return result, err
}

func (r *InstrumentedStore) RememberAsset(ctx context.Context, account, assetID string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "remember_asset", func(ctx context.Context) error {
		return r.repo.RememberAsset(ctx, account, assetID)
	})
}

func (r *InstrumentedStore) Acquire(ctx context.Context, account, holder string, ttl time.Duration) (func(), error) {
	var release func()

	err := r.telemetry.InstrumentDBOperation(ctx, "acquire", func(ctx context.Context) error {
		var err error

		release, err = r.repo.Acquire(ctx, account, holder, ttl)

		return err
	})

	return release, err
}

func (r *InstrumentedStore) RearmStale(ctx context.Context, account string, olderThan time.Time) (int, error) {
	var result int

	err := r.telemetry.InstrumentDBOperation(ctx, "rearm_stale", func(ctx context.Context) error {
		var err error

		result, err = r.repo.RearmStale(ctx, account, olderThan)

		return err
	})

	return result, err
}
