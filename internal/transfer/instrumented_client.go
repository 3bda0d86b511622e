package transfer

import (
	"context"

	"github.com/italolelis/syncbox/internal/telemetry"
)

// InstrumentedRemote wraps a Remote with telemetry.
type InstrumentedRemote struct {
	remote    Remote
	telemetry *telemetry.Telemetry
}

// NewInstrumentedRemote creates a new instrumented remote.
func NewInstrumentedRemote(remote Remote, tel *telemetry.Telemetry) *InstrumentedRemote {
	return &InstrumentedRemote{remote: remote, telemetry: tel}
}

func (r *InstrumentedRemote) Exists(ctx context.Context, remotePath string) (RemoteFile, error) {
	var result RemoteFile

	err := r.telemetry.InstrumentRemoteOperation(ctx, "exists", func(ctx context.Context) error {
		var err error

		result, err = r.remote.Exists(ctx, remotePath)

		return err
	})

	return result, err
}

func (r *InstrumentedRemote) Upload(ctx context.Context, localPath, remotePath string, progress ProgressFunc) (RemoteFile, error) {
	var result RemoteFile

	err := r.telemetry.InstrumentRemoteOperation(ctx, "upload", func(ctx context.Context) error {
		var err error

		result, err = r.remote.Upload(ctx, localPath, remotePath, progress)

		return err
	})
	if err == nil {
		r.telemetry.RecordTransferBytes(string(DirectionUpload), result.Size)
	}

	return result, err
}

func (r *InstrumentedRemote) Download(ctx context.Context, remotePath, localPath string, progress ProgressFunc) (RemoteFile, error) {
	var result RemoteFile

	err := r.telemetry.InstrumentRemoteOperation(ctx, "download", func(ctx context.Context) error {
		var err error

		result, err = r.remote.Download(ctx, remotePath, localPath, progress)

		return err
	})
	if err == nil {
		r.telemetry.RecordTransferBytes(string(DirectionDownload), result.Size)
	}

	return result, err
}

func (r *InstrumentedRemote) CreateFolder(ctx context.Context, remotePath string) error {
	return r.telemetry.InstrumentRemoteOperation(ctx, "create_folder", func(ctx context.Context) error {
		return r.remote.CreateFolder(ctx, remotePath)
	})
}

func (r *InstrumentedRemote) Delete(ctx context.Context, remotePath string) error {
	return r.telemetry.InstrumentRemoteOperation(ctx, "delete", func(ctx context.Context) error {
		return r.remote.Delete(ctx, remotePath)
	})
}

func (r *InstrumentedRemote) Rename(ctx context.Context, remotePath, newName string) error {
	return r.telemetry.InstrumentRemoteOperation(ctx, "rename", func(ctx context.Context) error {
		return r.remote.Rename(ctx, remotePath, newName)
	})
}

func (r *InstrumentedRemote) Move(ctx context.Context, remotePath, destDir string) error {
	return r.telemetry.InstrumentRemoteOperation(ctx, "move", func(ctx context.Context) error {
		return r.remote.Move(ctx, remotePath, destDir)
	})
}

func (r *InstrumentedRemote) Copy(ctx context.Context, remotePath, destDir string) error {
	return r.telemetry.InstrumentRemoteOperation(ctx, "copy", func(ctx context.Context) error {
		return r.remote.Copy(ctx, remotePath, destDir)
	})
}

func (r *InstrumentedRemote) SetFavorite(ctx context.Context, remotePath string, favorite bool) error {
	return r.telemetry.InstrumentRemoteOperation(ctx, "set_favorite", func(ctx context.Context) error {
		return r.remote.SetFavorite(ctx, remotePath, favorite)
	})
}
