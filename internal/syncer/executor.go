package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/syncbox/internal/cache"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/notifier"
	"github.com/italolelis/syncbox/internal/progress"
	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/telemetry"
	"github.com/italolelis/syncbox/internal/transfer"
)

const defaultTransferTimeout = 30 * time.Minute

// Outcome is the terminal result of one unit of work.
type Outcome struct {
	// Status is what the record was left in. Empty when it was removed.
	Status transfer.Status
	// Removed is set when the record and its payload were deleted.
	Removed bool
	Err     error
}

// Executor runs claimed records to their terminal status. It owns the
// active -> terminal writes and the admin-op results.
type Executor struct {
	store     storage.RecordWriter
	remote    transfer.Remote
	cache     cache.Cache
	events    notifier.Sink
	telemetry *telemetry.Telemetry
	timeout   time.Duration
}

func NewExecutor(store storage.RecordWriter, remote transfer.Remote, c cache.Cache, events notifier.Sink,
	tel *telemetry.Telemetry, timeout time.Duration,
) *Executor {
	if timeout <= 0 {
		timeout = defaultTransferTimeout
	}

	return &Executor{store: store, remote: remote, cache: c, events: events, telemetry: tel, timeout: timeout}
}

// Upload sends rec, which must already be in uploading. Expiration of the
// caller's context does not abort it; only the transfer timeout does.
func (e *Executor) Upload(ctx context.Context, rec transfer.Record) Outcome {
	ctx, cancel := e.detach(ctx)
	defer cancel()

	ctx, logger := e.logger(ctx, rec)
	subject := notifier.SubjectOf(rec)

	e.events.Report(notifier.Started{Subject: subject})

	var file transfer.RemoteFile

	err := e.telemetry.InstrumentTransfer(ctx, string(transfer.DirectionUpload), func(ctx context.Context) error {
		var err error

		file, err = e.remote.Upload(ctx, rec.LocalPath, rec.RemotePath(), e.progress(subject))

		return err
	})
	if err != nil {
		logger.ErrorContext(ctx, "upload failed", "err", err)

		return e.fail(ctx, rec, subject, err)
	}

	logger.InfoContext(ctx, "upload finished", "size", humanize.Bytes(uint64(max(file.Size, 0))))

	return e.succeed(ctx, rec, subject, storage.Update{Etag: file.Etag, Size: file.Size})
}

// Download fetches rec, which must already be in downloading, into the
// cache. A 404 means the remote file is gone: the record and payload go too.
func (e *Executor) Download(ctx context.Context, rec transfer.Record) Outcome {
	ctx, cancel := e.detach(ctx)
	defer cancel()

	ctx, logger := e.logger(ctx, rec)
	subject := notifier.SubjectOf(rec)

	e.events.Report(notifier.Started{Subject: subject})

	var file transfer.RemoteFile

	err := e.telemetry.InstrumentTransfer(ctx, string(transfer.DirectionDownload), func(ctx context.Context) error {
		var err error

		file, err = e.remote.Download(ctx, rec.RemotePath(), e.cache.PayloadPath(rec), e.progress(subject))

		return err
	})

	switch {
	case transfer.IsNotFound(err):
		logger.WarnContext(ctx, "remote file vanished, removing record", "err", err)

		e.events.Report(notifier.Failed{Subject: subject, Err: err})

		return e.forget(ctx, rec, err)
	case err != nil:
		logger.ErrorContext(ctx, "download failed", "err", err)

		return e.fail(ctx, rec, subject, err)
	}

	logger.InfoContext(ctx, "download finished", "size", humanize.Bytes(uint64(max(file.Size, 0))))

	return e.succeed(ctx, rec, subject, storage.Update{Etag: file.Etag, Size: file.Size})
}

// CreateFolder creates the remote folder of an auto-upload folder record. On
// failure the record stays in wait-create-folder so a later pass retries it.
func (e *Executor) CreateFolder(ctx context.Context, rec transfer.Record) Outcome {
	ctx, cancel := e.detach(ctx)
	defer cancel()

	ctx, logger := e.logger(ctx, rec)

	if err := e.remote.CreateFolder(ctx, rec.RemotePath()); err != nil {
		logger.WarnContext(ctx, "remote folder not created, kept for next pass", "err", err)

		return Outcome{Status: rec.Status, Err: err}
	}

	logger.InfoContext(ctx, "remote folder created")

	return e.succeed(ctx, rec, notifier.SubjectOf(rec), storage.Update{})
}

// Apply performs an administrative operation and writes its result.
func (e *Executor) Apply(ctx context.Context, rec transfer.Record) Outcome {
	ctx, cancel := e.detach(ctx)
	defer cancel()

	ctx, logger := e.logger(ctx, rec)
	subject := notifier.SubjectOf(rec)
	target := rec.RemotePath()

	var (
		upd storage.Update
		err error
	)

	switch rec.Status {
	case transfer.StatusWaitCreateFolder:
		err = e.remote.CreateFolder(ctx, target)
	case transfer.StatusWaitDelete:
		err = e.remote.Delete(ctx, target)
		if err == nil || transfer.IsNotFound(err) {
			logger.InfoContext(ctx, "remote file deleted")

			e.events.Report(notifier.Succeeded{Subject: subject})

			return e.forget(ctx, rec, nil)
		}
	case transfer.StatusWaitRename:
		err = e.remote.Rename(ctx, target, rec.Destination)
		if err == nil {
			upd.FileName = rec.Destination
			e.renamePayload(ctx, rec)
		}
	case transfer.StatusWaitMove:
		err = e.remote.Move(ctx, target, rec.Destination)
		if err == nil {
			upd.ServerURL = rec.Destination
		}
	case transfer.StatusWaitCopy:
		err = e.remote.Copy(ctx, target, rec.Destination)
	case transfer.StatusWaitFavorite:
		err = e.remote.SetFavorite(ctx, target, rec.Destination != "false")
	case transfer.StatusNormal, transfer.StatusWaitDownload, transfer.StatusDownloading,
		transfer.StatusDownloadError, transfer.StatusWaitUpload, transfer.StatusUploading,
		transfer.StatusUploadError, transfer.StatusActionError:
		return Outcome{Status: rec.Status, Err: fmt.Errorf("record %s in %s is not an administrative operation", rec.OcID, rec.Status)}
	}

	if err != nil {
		logger.ErrorContext(ctx, "administrative operation failed", "err", err)

		return e.fail(ctx, rec, subject, err)
	}

	logger.InfoContext(ctx, "administrative operation finished")

	return e.succeed(ctx, rec, subject, upd)
}

// Forget removes rec and its payload together.
func (e *Executor) Forget(ctx context.Context, rec transfer.Record) error {
	if err := e.store.Delete(ctx, rec.OcID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete record %s: %w", rec.OcID, err)
	}

	return e.cache.Remove(rec.OcID)
}

func (e *Executor) succeed(ctx context.Context, rec transfer.Record, subject notifier.Subject, upd storage.Update) Outcome {
	if err := e.store.SetStatus(ctx, rec.OcID, transfer.StatusNormal, upd); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to record success", "err", err)

		return Outcome{Status: rec.Status, Err: err}
	}

	e.events.Report(notifier.Succeeded{Subject: subject})

	return Outcome{Status: transfer.StatusNormal}
}

func (e *Executor) fail(ctx context.Context, rec transfer.Record, subject notifier.Subject, cause error) Outcome {
	status := rec.Status.ErrorFor()

	err := e.store.SetStatus(ctx, rec.OcID, status, storage.Update{
		ErrorMessage: cause.Error(),
		ErrorCode:    transfer.StatusCodeOf(cause),
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to record failure", "status", string(status), "err", err)

		status = rec.Status
	}

	e.events.Report(notifier.Failed{Subject: subject, Err: cause})

	return Outcome{Status: status, Err: errors.Join(cause, err)}
}

func (e *Executor) forget(ctx context.Context, rec transfer.Record, cause error) Outcome {
	if err := e.Forget(ctx, rec); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to remove record", "err", err)

		return Outcome{Status: rec.Status, Err: errors.Join(cause, err)}
	}

	return Outcome{Removed: true, Err: cause}
}

func (e *Executor) renamePayload(ctx context.Context, rec transfer.Record) {
	renamed := rec
	renamed.FileName = rec.Destination

	err := os.Rename(e.cache.PayloadPath(rec), e.cache.PayloadPath(renamed))
	if err != nil && !os.IsNotExist(err) {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to rename cached payload", "err", err)
	}
}

func (e *Executor) progress(subject notifier.Subject) transfer.ProgressFunc {
	return func(written, total int64) {
		e.events.Report(notifier.Progressed{Subject: subject, Fraction: progress.Fraction(written, total)})
	}
}

// detach keeps the logger and trace of ctx but not its cancellation.
func (e *Executor) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
}

func (e *Executor) logger(ctx context.Context, rec transfer.Record) (context.Context, *slog.Logger) {
	return logctx.With(ctx,
		"oc_id", rec.OcID,
		"file_name", rec.FileName,
		"server_url", rec.ServerURL,
		"status", string(rec.Status),
		"session_selector", string(rec.Selector),
	)
}
