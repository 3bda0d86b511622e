// Package syncer drives one synchronization pass: discovery, folder
// creation, admin operations, admission and dispatch of transfers.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/italolelis/syncbox/internal/host"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/telemetry"
	"github.com/italolelis/syncbox/internal/transfer"
)

// ErrFolderCreation aborts a pass when a folder could not be created.
var ErrFolderCreation = errors.New("folder creation failed")

// Expiration is polled between units of work.
type Expiration = host.Expiration

type Scanner interface {
	Discover(ctx context.Context) (int, error)
}

type Expander interface {
	Expand(ctx context.Context, rec transfer.Record) ([]transfer.Record, error)
}

// Transfers runs single records to their terminal state.
type Transfers interface {
	Upload(ctx context.Context, rec transfer.Record) Outcome
	Download(ctx context.Context, rec transfer.Record) Outcome
	Apply(ctx context.Context, rec transfer.Record) Outcome
	CreateFolder(ctx context.Context, rec transfer.Record) Outcome
	Forget(ctx context.Context, rec transfer.Record) error
}

// Cleaner evicts old payloads during maintenance passes.
type Cleaner interface {
	DeleteExpiredPayloads(ctx context.Context, exp Expiration) (int, error)
}

type Config struct {
	Account       string
	MaxConcurrent int
	// Holder identifies this process in store leases.
	Holder   string
	LeaseTTL time.Duration
	// StaleAfter is how long an active record may sit untouched before a
	// maintenance pass puts it back into its wait status. Zero disables it.
	StaleAfter time.Duration
}

// Report summarizes one pass.
type Report struct {
	Discovered     int
	FoldersCreated int
	Actions        int
	ActionErrors   int
	Deduplicated   int
	Admitted       int
	Uploaded       int
	Downloaded     int
	Failed         int
	Removed        int
	Skipped        int
	Rearmed        int
	Cleaned        int
	Expired        bool
}

func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("discovered", r.Discovered),
		slog.Int("folders_created", r.FoldersCreated),
		slog.Int("actions", r.Actions),
		slog.Int("action_errors", r.ActionErrors),
		slog.Int("deduplicated", r.Deduplicated),
		slog.Int("admitted", r.Admitted),
		slog.Int("uploaded", r.Uploaded),
		slog.Int("downloaded", r.Downloaded),
		slog.Int("failed", r.Failed),
		slog.Int("removed", r.Removed),
		slog.Int("skipped", r.Skipped),
		slog.Int("rearmed", r.Rearmed),
		slog.Int("cleaned", r.Cleaned),
		slog.Bool("expired", r.Expired),
	)
}

// Orchestrator runs passes for one account. It is the only component that
// moves records from a wait status into an active one.
type Orchestrator struct {
	store     storage.Store
	scanner   Scanner
	expander  Expander
	transfers Transfers
	remote    transfer.Remote
	cleaner   Cleaner
	telemetry *telemetry.Telemetry
	cfg       Config
	seq       atomic.Uint64
}

type Option func(*Orchestrator)

// WithScanner runs discovery at the start of every pass.
func WithScanner(s Scanner) Option {
	return func(o *Orchestrator) { o.scanner = s }
}

// WithCleaner enables payload eviction in maintenance passes.
func WithCleaner(c Cleaner) Option {
	return func(o *Orchestrator) { o.cleaner = c }
}

func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *Orchestrator) { o.telemetry = tel }
}

func NewOrchestrator(store storage.Store, expander Expander, transfers Transfers, remote transfer.Remote,
	cfg Config, opts ...Option,
) *Orchestrator {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = time.Hour
	}

	o := &Orchestrator{
		store:     store,
		expander:  expander,
		transfers: transfers,
		remote:    remote,
		cfg:       cfg,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run performs one ordinary pass.
func (o *Orchestrator) Run(ctx context.Context, exp Expiration) (Report, error) {
	return o.run(ctx, exp, false)
}

// Maintain performs a pass preceded by stale-record recovery and cache cleanup.
func (o *Orchestrator) Maintain(ctx context.Context, exp Expiration) (Report, error) {
	return o.run(ctx, exp, true)
}

func (o *Orchestrator) run(ctx context.Context, exp Expiration, maintenance bool) (Report, error) {
	var report Report

	seq := o.seq.Add(1)
	ctx, logger := logctx.With(ctx, "account", o.cfg.Account, "pass", seq)

	err := o.telemetry.InstrumentOperation(ctx, "sync_pass", "orchestrator", func(ctx context.Context) error {
		p, err := o.open(ctx, exp, seq)
		if err != nil {
			return err
		}
		defer p.release()

		if maintenance {
			o.maintain(ctx, p, &report)
		}

		return o.pass(ctx, p, &report)
	})

	switch {
	case err != nil:
		logger.ErrorContext(ctx, "sync pass aborted", "report", report, "err", err)
	default:
		logger.InfoContext(ctx, "sync pass finished", "report", report)
	}

	return report, err
}

// pass is the body of a pass once the store is held.
func (o *Orchestrator) pass(ctx context.Context, p *passState, report *Report) error {
	logger := logctx.LoggerFromContext(ctx)

	if o.scanner != nil {
		n, err := o.scanner.Discover(ctx)
		report.Discovered = n

		if err != nil {
			logger.WarnContext(ctx, "discovery finished with errors", "err", err)
		}
	}

	if p.expired(ctx) {
		report.Expired = true

		return nil
	}

	pending, err := o.store.Query(ctx, storage.Filter{
		Account:         o.cfg.Account,
		ExcludeStatuses: []transfer.Status{transfer.StatusNormal},
		OrderBy:         storage.OrderDiscovery,
	})
	if err != nil {
		return fmt.Errorf("failed to query pending records: %w", err)
	}

	if len(pending) == 0 {
		logger.DebugContext(ctx, "nothing to do")

		return nil
	}

	if err := o.createFolders(ctx, p, pending, report); err != nil || report.Expired {
		return err
	}

	if o.applyActions(ctx, p, pending, report); report.Expired {
		return nil
	}

	budget, err := o.budget(ctx)
	if err != nil {
		return err
	}

	logger.DebugContext(ctx, "capacity budget computed", "budget", budget)

	admitted, err := o.dispatchUploads(ctx, p, budget, report)
	if err != nil || report.Expired {
		return err
	}

	return o.dispatchDownloads(ctx, p, budget-admitted, report)
}

// createFolders creates auto-upload folders in discovery order and stops the
// pass at the first failure. The failed folder keeps its wait status, so the
// next pass starts with it again.
func (o *Orchestrator) createFolders(ctx context.Context, p *passState, pending []transfer.Record, report *Report) error {
	for _, rec := range pending {
		if rec.Status != transfer.StatusWaitCreateFolder || rec.Selector != transfer.SelectorAutoUpload {
			continue
		}

		if p.expired(ctx) {
			report.Expired = true

			return nil
		}

		out := o.transfers.CreateFolder(ctx, rec)
		if out.Err != nil {
			logctx.LoggerFromContext(ctx).ErrorContext(ctx, "folder creation failed, aborting pass",
				"oc_id", rec.OcID, "server_url", rec.RemotePath(), "err", out.Err)

			return fmt.Errorf("%w: %s: %v", ErrFolderCreation, rec.RemotePath(), out.Err)
		}

		report.FoldersCreated++
	}

	return nil
}

// applyActions runs the remaining administrative operations. Each failure
// only affects its own record.
func (o *Orchestrator) applyActions(ctx context.Context, p *passState, pending []transfer.Record, report *Report) {
	for _, rec := range pending {
		if !isAction(rec) {
			continue
		}

		if p.expired(ctx) {
			report.Expired = true

			return
		}

		out := o.transfers.Apply(ctx, rec)

		switch {
		case out.Removed:
			report.Removed++
		case out.Err != nil:
			report.ActionErrors++
		default:
			report.Actions++
		}
	}
}

func isAction(rec transfer.Record) bool {
	switch rec.Status {
	case transfer.StatusWaitCreateFolder:
		return rec.Selector != transfer.SelectorAutoUpload
	case transfer.StatusWaitDelete, transfer.StatusWaitRename, transfer.StatusWaitFavorite,
		transfer.StatusWaitCopy, transfer.StatusWaitMove:
		return true
	case transfer.StatusNormal, transfer.StatusWaitDownload, transfer.StatusDownloading,
		transfer.StatusDownloadError, transfer.StatusWaitUpload, transfer.StatusUploading,
		transfer.StatusUploadError, transfer.StatusActionError:
		return false
	}

	return false
}

func (o *Orchestrator) budget(ctx context.Context) (int, error) {
	downloading, err := o.store.CountStatus(ctx, o.cfg.Account, transfer.StatusDownloading)
	if err != nil {
		return 0, fmt.Errorf("failed to count downloads: %w", err)
	}

	uploading, err := o.store.CountStatus(ctx, o.cfg.Account, transfer.StatusUploading)
	if err != nil {
		return 0, fmt.Errorf("failed to count uploads: %w", err)
	}

	return transfer.Budget(downloading, uploading, o.cfg.MaxConcurrent), nil
}

// dispatchUploads admits wait-upload records until budget claims were made.
// Auto-upload records come first and are checked against the remote so an
// upload that already happened is not repeated; records found there are
// deleted and do not use up budget.
func (o *Orchestrator) dispatchUploads(ctx context.Context, p *passState, budget int, report *Report) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	candidates, err := o.uploadCandidates(ctx)
	if err != nil {
		return 0, err
	}

	admitted := 0

	for _, rec := range candidates {
		if admitted >= budget {
			break
		}

		if p.expired(ctx) {
			report.Expired = true

			return admitted, nil
		}

		if rec.Selector == transfer.SelectorAutoUpload {
			present, err := o.existsRemotely(ctx, rec)

			switch {
			case err != nil:
				logger.WarnContext(ctx, "existence check failed, skipping record",
					"oc_id", rec.OcID, "file_name", rec.FileName, "err", err)

				report.Skipped++

				continue
			case present:
				if err := o.transfers.Forget(ctx, rec); err != nil {
					logger.ErrorContext(ctx, "failed to delete duplicate record", "oc_id", rec.OcID, "err", err)

					report.Skipped++

					continue
				}

				logger.InfoContext(ctx, "file already on remote, record removed", "oc_id", rec.OcID, "file_name", rec.FileName)

				report.Deduplicated++

				continue
			}

			if p.expired(ctx) {
				report.Expired = true

				return admitted, nil
			}
		}

		pieces, err := o.expander.Expand(ctx, rec)
		if err != nil {
			logger.WarnContext(ctx, "expansion failed, record kept for next pass", "oc_id", rec.OcID, "err", err)

			report.Skipped++

			continue
		}

		for _, piece := range pieces {
			if admitted >= budget {
				break
			}

			if p.expired(ctx) {
				report.Expired = true

				return admitted, nil
			}

			ok, err := o.admit(ctx, piece, transfer.StatusWaitUpload, transfer.StatusUploading)
			if err != nil {
				return admitted, err
			}

			if !ok {
				report.Skipped++

				continue
			}

			admitted++
			report.Admitted++

			piece.Status = transfer.StatusUploading
			o.tally(report, o.transfers.Upload(ctx, piece), &report.Uploaded)
		}
	}

	return admitted, nil
}

func (o *Orchestrator) uploadCandidates(ctx context.Context) ([]transfer.Record, error) {
	zero := 0

	var out []transfer.Record

	for _, sel := range []transfer.Selector{transfer.SelectorAutoUpload, transfer.SelectorManualUpload} {
		recs, err := o.store.Query(ctx, storage.Filter{
			Account:  o.cfg.Account,
			Statuses: []transfer.Status{transfer.StatusWaitUpload},
			Selector: sel,
			Chunk:    &zero,
			OrderBy:  storage.OrderFileName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query upload candidates: %w", err)
		}

		out = append(out, recs...)
	}

	return out, nil
}

// existsRemotely maps the existence check onto present / absent / error.
func (o *Orchestrator) existsRemotely(ctx context.Context, rec transfer.Record) (bool, error) {
	_, err := o.remote.Exists(ctx, rec.RemotePath())

	switch {
	case err == nil:
		return true, nil
	case transfer.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

func (o *Orchestrator) dispatchDownloads(ctx context.Context, p *passState, budget int, report *Report) error {
	if budget <= 0 {
		return nil
	}

	candidates, err := o.store.Query(ctx, storage.Filter{
		Account:  o.cfg.Account,
		Statuses: []transfer.Status{transfer.StatusWaitDownload},
		OrderBy:  storage.OrderFileName,
		Limit:    budget,
	})
	if err != nil {
		return fmt.Errorf("failed to query download candidates: %w", err)
	}

	for _, rec := range candidates {
		if p.expired(ctx) {
			report.Expired = true

			return nil
		}

		ok, err := o.admit(ctx, rec, transfer.StatusWaitDownload, transfer.StatusDownloading)
		if err != nil {
			return err
		}

		if !ok {
			report.Skipped++

			continue
		}

		report.Admitted++

		rec.Status = transfer.StatusDownloading
		o.tally(report, o.transfers.Download(ctx, rec), &report.Downloaded)
	}

	return nil
}

func (o *Orchestrator) admit(ctx context.Context, rec transfer.Record, from, to transfer.Status) (bool, error) {
	ok, err := o.store.Claim(ctx, rec.OcID, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", rec.OcID, err)
	}

	if ok {
		o.telemetry.RecordAdmission(string(rec.Direction()))
	}

	return ok, nil
}

func (o *Orchestrator) tally(report *Report, out Outcome, success *int) {
	switch {
	case out.Removed:
		report.Removed++
	case out.Err != nil:
		report.Failed++
	default:
		*success++
	}
}

// maintain runs the processing-grant chores. Failures are logged only.
func (o *Orchestrator) maintain(ctx context.Context, p *passState, report *Report) {
	logger := logctx.LoggerFromContext(ctx)

	if o.cfg.StaleAfter > 0 {
		n, err := o.store.RearmStale(ctx, o.cfg.Account, time.Now().Add(-o.cfg.StaleAfter))
		if err != nil {
			logger.ErrorContext(ctx, "failed to recover stale transfers", "err", err)
		}

		report.Rearmed = n

		if n > 0 {
			logger.WarnContext(ctx, "recovered stale transfers", "count", n)
		}
	}

	if o.cleaner != nil && !p.expired(ctx) {
		n, err := o.cleaner.DeleteExpiredPayloads(ctx, p)
		if err != nil {
			logger.ErrorContext(ctx, "cache cleanup failed", "err", err)
		}

		report.Cleaned = n
	}
}
