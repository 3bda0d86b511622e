// Package discovery finds new items in an external catalog and enqueues them
// as auto-upload records.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/transfer"
)

// Asset is one item of the external catalog.
type Asset struct {
	// ID is stable across scans; it is what the ledger remembers.
	ID         string
	Name       string
	Path       string
	Size       int64
	CreatedAt  time.Time
	ModifiedAt time.Time
	Live       bool
}

// Source enumerates the catalog. A partial failure returns what could be read
// together with the error.
type Source interface {
	Assets(ctx context.Context) ([]Asset, error)
}

// Store is what the scanner needs from the record store.
type Store interface {
	Insert(ctx context.Context, rec transfer.Record) error
	KnownAsset(ctx context.Context, account, assetID string) (bool, error)
	RememberAsset(ctx context.Context, account, assetID string) error
}

type Config struct {
	Account   string
	ServerURL string
	// Subfolders places assets under <ServerURL>/<YYYY>/<MM> by creation date.
	Subfolders bool
}

type Scanner struct {
	source Source
	store  Store
	cfg    Config
	newID  func() string
}

func NewScanner(source Source, store Store, cfg Config) *Scanner {
	return &Scanner{source: source, store: store, cfg: cfg, newID: uuid.NewString}
}

// Discover inserts a wait-upload record for every asset the ledger has not
// seen and returns how many records it inserted. Running it again without
// catalog changes inserts nothing.
func (s *Scanner) Discover(ctx context.Context) (int, error) {
	ctx, logger := logctx.With(ctx, "account", s.cfg.Account)

	assets, srcErr := s.source.Assets(ctx)
	if srcErr != nil {
		logger.WarnContext(ctx, "discovery source reported errors", "err", srcErr)
	}

	var (
		inserted int
		errs     []error
	)

	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)

			break
		}

		known, err := s.store.KnownAsset(ctx, s.cfg.Account, a.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("asset %s: %w", a.ID, err))

			continue
		}

		if known {
			continue
		}

		dir := s.targetDir(a)

		n, err := s.ensureFolders(ctx, dir)
		inserted += n

		if err != nil {
			errs = append(errs, fmt.Errorf("asset %s: %w", a.ID, err))

			continue
		}

		rec := transfer.Record{
			OcID:             s.newID(),
			Account:          s.cfg.Account,
			ServerURL:        dir,
			FileName:         a.Name,
			Status:           transfer.StatusWaitUpload,
			Selector:         transfer.SelectorAutoUpload,
			Size:             a.Size,
			CreationDate:     a.CreatedAt,
			ModificationDate: a.ModifiedAt,
			AssetID:          a.ID,
			LocalPath:        a.Path,
			LivePhoto:        a.Live,
		}

		if err := s.store.Insert(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("asset %s: %w", a.ID, err))

			continue
		}

		inserted++

		if err := s.store.RememberAsset(ctx, s.cfg.Account, a.ID); err != nil {
			errs = append(errs, fmt.Errorf("asset %s: %w", a.ID, err))
		}

		logger.DebugContext(ctx, "discovered asset", "oc_id", rec.OcID, "file_name", rec.FileName, "server_url", dir)
	}

	if inserted > 0 {
		logger.InfoContext(ctx, "discovery inserted records", "count", inserted)
	}

	return inserted, errors.Join(append([]error{srcErr}, errs...)...)
}

func (s *Scanner) targetDir(a Asset) string {
	base := path.Clean("/" + s.cfg.ServerURL)
	if !s.cfg.Subfolders {
		return base
	}

	when := a.CreatedAt
	if when.IsZero() {
		when = a.ModifiedAt
	}

	return path.Join(base, when.Format("2006"), when.Format("01"))
}

// ensureFolders enqueues a wait-create-folder record for every folder on the
// way to dir that was never enqueued before, parents first.
func (s *Scanner) ensureFolders(ctx context.Context, dir string) (int, error) {
	if !s.cfg.Subfolders {
		return 0, nil
	}

	base := path.Clean("/" + s.cfg.ServerURL)

	var chain []string
	for d := dir; d != base && d != "/" && d != "."; d = path.Dir(d) {
		chain = append([]string{d}, chain...)
	}

	inserted := 0

	for _, d := range chain {
		key := folderAssetID(d)

		known, err := s.store.KnownAsset(ctx, s.cfg.Account, key)
		if err != nil {
			return inserted, err
		}

		if known {
			continue
		}

		rec := transfer.Record{
			OcID:      s.newID(),
			Account:   s.cfg.Account,
			ServerURL: path.Dir(d),
			FileName:  path.Base(d),
			Status:    transfer.StatusWaitCreateFolder,
			Selector:  transfer.SelectorAutoUpload,
			AssetID:   key,
		}

		if err := s.store.Insert(ctx, rec); err != nil {
			return inserted, err
		}

		inserted++

		if err := s.store.RememberAsset(ctx, s.cfg.Account, key); err != nil {
			return inserted, err
		}
	}

	return inserted, nil
}

func folderAssetID(dir string) string {
	return "folder:" + dir
}
