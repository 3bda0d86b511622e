package transfer

import "fmt"

// Status is the single active state of a record.
type Status string

const (
	StatusNormal Status = "normal"

	StatusWaitDownload  Status = "wait-download"
	StatusDownloading   Status = "downloading"
	StatusDownloadError Status = "download-error"

	StatusWaitUpload  Status = "wait-upload"
	StatusUploading   Status = "uploading"
	StatusUploadError Status = "upload-error"

	StatusWaitCreateFolder Status = "wait-create-folder"
	StatusWaitDelete       Status = "wait-delete"
	StatusWaitRename       Status = "wait-rename"
	StatusWaitFavorite     Status = "wait-favorite"
	StatusWaitCopy         Status = "wait-copy"
	StatusWaitMove         Status = "wait-move"
	StatusActionError      Status = "action-error"
)

// AllStatuses lists every status in a stable order.
var AllStatuses = []Status{
	StatusNormal,
	StatusWaitDownload, StatusDownloading, StatusDownloadError,
	StatusWaitUpload, StatusUploading, StatusUploadError,
	StatusWaitCreateFolder, StatusWaitDelete, StatusWaitRename,
	StatusWaitFavorite, StatusWaitCopy, StatusWaitMove, StatusActionError,
}

// ParseStatus validates a status coming from storage or the API.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}

	return "", fmt.Errorf("unknown status %q", s)
}

func (s Status) IsWait() bool {
	switch s {
	case StatusWaitDownload, StatusWaitUpload, StatusWaitCreateFolder, StatusWaitDelete,
		StatusWaitRename, StatusWaitFavorite, StatusWaitCopy, StatusWaitMove:
		return true
	case StatusNormal, StatusDownloading, StatusDownloadError, StatusUploading,
		StatusUploadError, StatusActionError:
		return false
	}

	return false
}

func (s Status) IsActive() bool {
	switch s {
	case StatusDownloading, StatusUploading:
		return true
	case StatusNormal, StatusWaitDownload, StatusDownloadError, StatusWaitUpload,
		StatusUploadError, StatusWaitCreateFolder, StatusWaitDelete, StatusWaitRename,
		StatusWaitFavorite, StatusWaitCopy, StatusWaitMove, StatusActionError:
		return false
	}

	return false
}

func (s Status) IsError() bool {
	switch s {
	case StatusDownloadError, StatusUploadError, StatusActionError:
		return true
	case StatusNormal, StatusWaitDownload, StatusDownloading, StatusWaitUpload,
		StatusUploading, StatusWaitCreateFolder, StatusWaitDelete, StatusWaitRename,
		StatusWaitFavorite, StatusWaitCopy, StatusWaitMove:
		return false
	}

	return false
}

// IsSettled reports whether the record needs no further work.
func (s Status) IsSettled() bool {
	return s == StatusNormal
}

// IsPending reports whether the record counts towards the badge.
func (s Status) IsPending() bool {
	return s.IsWait() || s.IsActive()
}

// PendingStatuses returns every wait and active status.
func PendingStatuses() []Status {
	out := make([]Status, 0, len(AllStatuses))

	for _, s := range AllStatuses {
		if s.IsPending() {
			out = append(out, s)
		}
	}

	return out
}

// ActiveFor returns the active status a wait status is admitted into.
func (s Status) ActiveFor() (Status, bool) {
	switch s {
	case StatusWaitUpload:
		return StatusUploading, true
	case StatusWaitDownload:
		return StatusDownloading, true
	case StatusNormal, StatusDownloading, StatusDownloadError, StatusUploading,
		StatusUploadError, StatusWaitCreateFolder, StatusWaitDelete, StatusWaitRename,
		StatusWaitFavorite, StatusWaitCopy, StatusWaitMove, StatusActionError:
		return "", false
	}

	return "", false
}

// ErrorFor returns the error status a record in s falls into on failure.
func (s Status) ErrorFor() Status {
	switch s {
	case StatusWaitUpload, StatusUploading:
		return StatusUploadError
	case StatusWaitDownload, StatusDownloading:
		return StatusDownloadError
	case StatusWaitCreateFolder, StatusWaitDelete, StatusWaitRename, StatusWaitFavorite,
		StatusWaitCopy, StatusWaitMove:
		return StatusActionError
	case StatusNormal, StatusDownloadError, StatusUploadError, StatusActionError:
		return s
	}

	return s
}

// IsAction reports whether s is the wait status of an administrative operation.
func (s Status) IsAction() bool {
	return s.IsWait() && s.ErrorFor() == StatusActionError
}

// Rearm returns the wait status an upload or download error goes back to on
// retry. An action-error does not know its operation; use Record.Rearm.
func (s Status) Rearm() (Status, bool) {
	switch s {
	case StatusUploadError:
		return StatusWaitUpload, true
	case StatusDownloadError:
		return StatusWaitDownload, true
	case StatusNormal, StatusWaitDownload, StatusDownloading, StatusWaitUpload,
		StatusUploading, StatusWaitCreateFolder, StatusWaitDelete, StatusWaitRename,
		StatusWaitFavorite, StatusWaitCopy, StatusWaitMove, StatusActionError:
		return "", false
	}

	return "", false
}

var transitions = map[Status][]Status{
	StatusNormal:        {StatusWaitDownload, StatusWaitUpload, StatusWaitDelete, StatusWaitRename, StatusWaitFavorite, StatusWaitCopy, StatusWaitMove},
	StatusWaitDownload:  {StatusDownloading},
	StatusDownloading:   {StatusNormal, StatusDownloadError},
	StatusDownloadError: {StatusWaitDownload},
	StatusWaitUpload:    {StatusUploading},
	StatusUploading:     {StatusNormal, StatusUploadError},
	StatusUploadError:   {StatusWaitUpload},

	StatusWaitCreateFolder: {StatusNormal, StatusActionError},
	StatusWaitDelete:       {StatusNormal, StatusActionError},
	StatusWaitRename:       {StatusNormal, StatusActionError},
	StatusWaitFavorite:     {StatusNormal, StatusActionError},
	StatusWaitCopy:         {StatusNormal, StatusActionError},
	StatusWaitMove:         {StatusNormal, StatusActionError},
	StatusActionError: {
		StatusNormal, StatusWaitCreateFolder, StatusWaitDelete, StatusWaitRename,
		StatusWaitFavorite, StatusWaitCopy, StatusWaitMove,
	},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}
