package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/storage"
)

// Acquire takes the per-account pass lease. The upsert only wins when no
// lease exists, the existing one has expired, or it is already ours.
func (r *RecordRepository) Acquire(ctx context.Context, account, holder string, ttl time.Duration) (func(), error) {
	if err := checkReady(ctx, r.db); err != nil {
		return nil, err
	}

	now := r.now()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO pass_leases (account, holder, acquired_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at
		WHERE pass_leases.holder = excluded.holder OR pass_leases.acquired_at < ?
	`, account, holder, now.UnixNano(), now.Add(-ttl).UnixNano())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}

	if affected == 0 {
		return nil, fmt.Errorf("%w: account %s is held by another pass", storage.ErrStoreUnavailable, account)
	}

	release := func() {
		// the pass context may already be done; the lease must still go
		_, err := r.db.ExecContext(context.WithoutCancel(ctx),
			`DELETE FROM pass_leases WHERE account = ? AND holder = ?`, account, holder)
		if err != nil {
			logctx.LoggerFromContext(ctx).Error("failed to release pass lease", "account", account, "err", err)
		}
	}

	return release, nil
}
