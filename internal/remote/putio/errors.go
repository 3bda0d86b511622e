package putio

import (
	"errors"
	"net/http"

	"github.com/putdotio/go-putio"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/italolelis/syncbox/internal/transfer"
)

// errNoSuchFile is returned by path resolution when a segment does not exist.
var errNoSuchFile = errors.New("no such file")

// errNotAFolder is returned when a path segment that must be a folder is a file.
var errNotAFolder = errors.New("not a folder")

func remoteError(op, remotePath string, err error) error {
	if err == nil {
		return nil
	}

	var re *transfer.RemoteError
	if errors.As(err, &re) {
		return err
	}

	switch {
	case errors.Is(err, errNoSuchFile):
		return transfer.NotFound(op, remotePath)
	case errors.Is(err, errNotAFolder):
		return &transfer.RemoteError{Op: op, Path: remotePath, StatusCode: http.StatusConflict, Message: err.Error(), Err: err}
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &transfer.RemoteError{Op: op, Path: remotePath, StatusCode: http.StatusServiceUnavailable, Message: err.Error(), Err: err}
	}

	var apiErr *putio.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.Response.StatusCode)
		}

		return &transfer.RemoteError{Op: op, Path: remotePath, StatusCode: apiErr.Response.StatusCode, Message: msg, Err: err}
	}

	return &transfer.RemoteError{Op: op, Path: remotePath, Message: err.Error(), Err: err}
}
