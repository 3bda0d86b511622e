package transfer

import (
	"context"
	"time"
)

// ProgressFunc receives cumulative bytes and the expected total (0 if unknown).
type ProgressFunc func(written, total int64)

// RemoteFile is what the remote reports about a file after an operation.
type RemoteFile struct {
	ID         string
	Path       string
	Size       int64
	Etag       string
	IsDir      bool
	ModifiedAt time.Time
}

// Remote is the network boundary to the file host. All errors describing a
// failed request are *RemoteError so callers can tell 404 apart from the rest.
type Remote interface {
	Exists(ctx context.Context, remotePath string) (RemoteFile, error)
	Upload(ctx context.Context, localPath, remotePath string, progress ProgressFunc) (RemoteFile, error)
	Download(ctx context.Context, remotePath, localPath string, progress ProgressFunc) (RemoteFile, error)
	CreateFolder(ctx context.Context, remotePath string) error
	Delete(ctx context.Context, remotePath string) error
	Rename(ctx context.Context, remotePath, newName string) error
	Move(ctx context.Context, remotePath, destDir string) error
	Copy(ctx context.Context, remotePath, destDir string) error
	SetFavorite(ctx context.Context, remotePath string, favorite bool) error
}
