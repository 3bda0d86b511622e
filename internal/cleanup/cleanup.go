// Package cleanup evicts old cached payloads during processing grants.
package cleanup

import (
	"context"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/syncbox/internal/cache"
	"github.com/italolelis/syncbox/internal/host"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/transfer"
)

// Cleaner deletes cached payloads of settled records that were not modified
// for longer than keep. Records themselves stay; only the local copy goes.
type Cleaner struct {
	store   storage.RecordReader
	cache   cache.Cache
	account string
	keep    time.Duration
	now     func() time.Time
}

func NewCleaner(store storage.RecordReader, c cache.Cache, account string, keep time.Duration) *Cleaner {
	return &Cleaner{store: store, cache: c, account: account, keep: keep, now: time.Now}
}

// DeleteExpiredPayloads returns how many payloads it removed. It stops early,
// without error, once exp expires.
func (c *Cleaner) DeleteExpiredPayloads(ctx context.Context, exp host.Expiration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	if c.keep <= 0 {
		return 0, nil
	}

	records, err := c.store.Query(ctx, storage.Filter{
		Account:  c.account,
		Statuses: []transfer.Status{transfer.StatusNormal},
	})
	if err != nil {
		return 0, err
	}

	var (
		removed int
		freed   int64
		now     = c.now()
	)

	for _, rec := range records {
		if exp.Expired() {
			logger.InfoContext(ctx, "cache cleanup stopped, grant expired", "removed", removed)

			break
		}

		payload := c.cache.PayloadPath(rec)

		info, err := os.Stat(payload)
		if err != nil {
			if os.IsNotExist(err) {
				continue // not cached
			}

			logger.ErrorContext(ctx, "failed to stat payload", "oc_id", rec.OcID, "file", payload, "err", err)

			continue
		}

		if now.Sub(info.ModTime()) <= c.keep {
			continue
		}

		if err := c.cache.Remove(rec.OcID); err != nil {
			logger.ErrorContext(ctx, "failed to delete expired payload", "oc_id", rec.OcID, "file", payload, "err", err)

			continue
		}

		removed++
		freed += info.Size()

		logger.DebugContext(ctx, "deleted expired payload", "oc_id", rec.OcID, "file_name", rec.FileName)
	}

	if removed > 0 {
		logger.InfoContext(ctx, "cache cleanup finished", "removed", removed, "freed", humanize.Bytes(uint64(freed)))
	}

	return removed, nil
}
