package transfer

import (
	"path"
	"time"
)

// Selector tags why a record exists. It is fixed when the record is created.
type Selector string

const (
	SelectorAutoUpload   Selector = "auto-upload"
	SelectorManualUpload Selector = "manual-upload"
	SelectorOfflineSync  Selector = "offline-sync"
	SelectorDownload     Selector = "download"
)

func (s Selector) Valid() bool {
	switch s {
	case SelectorAutoUpload, SelectorManualUpload, SelectorOfflineSync, SelectorDownload:
		return true
	}

	return false
}

// Direction of a transfer, derived from the record status.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
	DirectionAction   Direction = "action"
)

// Record is one file known to the system. Values are detached copies of what
// the store holds; mutating a Record never changes persisted state.
type Record struct {
	OcID      string
	Account   string
	ServerURL string
	FileName  string

	Status   Status
	Selector Selector
	Chunk    int

	Size             int64
	Etag             string
	CreationDate     time.Time
	ModificationDate time.Time

	// AssetID is the stable identifier the discovery source uses for the item.
	AssetID string
	// LocalPath is the upload source. Empty for downloads, which land in the cache.
	LocalPath string

	LivePhoto bool
	LiveGroup string

	// Destination is the new name (rename) or target folder (move, copy).
	Destination string

	ErrorMessage string
	ErrorCode    int
	// FailedAction is the administrative wait status an action-error record
	// failed in. Empty for every other record.
	FailedAction Status
	UpdatedAt    time.Time
}

// Rearm returns the wait status the record goes back to on retry.
func (r Record) Rearm() (Status, bool) {
	if r.Status == StatusActionError {
		if r.FailedAction.IsAction() {
			return r.FailedAction, true
		}

		return "", false
	}

	return r.Status.Rearm()
}

// RemotePath joins the parent path and the file name.
func (r Record) RemotePath() string {
	return path.Join("/", r.ServerURL, r.FileName)
}

func (r Record) Direction() Direction {
	switch r.Status {
	case StatusWaitUpload, StatusUploading, StatusUploadError:
		return DirectionUpload
	case StatusWaitDownload, StatusDownloading, StatusDownloadError:
		return DirectionDownload
	case StatusNormal, StatusWaitCreateFolder, StatusWaitDelete, StatusWaitRename,
		StatusWaitFavorite, StatusWaitCopy, StatusWaitMove, StatusActionError:
		return DirectionAction
	}

	return DirectionAction
}
