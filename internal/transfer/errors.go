package transfer

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnsupported is returned by remotes that cannot perform an operation.
var ErrUnsupported = errors.New("operation not supported by remote")

// Class groups remote failures by how the engine reacts to them.
type Class string

const (
	ClassNotFound  Class = "not_found"
	ClassLocked    Class = "locked"
	ClassForbidden Class = "forbidden"
	ClassAuth      Class = "auth"
	ClassServer    Class = "server"
	ClassNetwork   Class = "network"
)

// RemoteError represents a failed call against the remote file host,
// including 4xx/5xx responses and connection failures.
type RemoteError struct {
	Op         string // The operation that failed (e.g., "exists", "upload")
	Path       string // Remote path the operation targeted
	StatusCode int    // HTTP status code, 0 for non-HTTP errors
	Message    string // Message from the API or network layer
	Err        error  // Underlying error, if any
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote %s %s failed (HTTP %d): %s", e.Op, e.Path, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("remote %s %s failed: %s", e.Op, e.Path, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Class maps the status code onto the engine's error taxonomy.
func (e *RemoteError) Class() Class {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ClassNotFound
	case e.StatusCode == http.StatusLocked:
		return ClassLocked
	case e.StatusCode == http.StatusForbidden:
		return ClassForbidden
	case e.StatusCode == http.StatusUnauthorized:
		return ClassAuth
	case e.StatusCode >= http.StatusInternalServerError:
		return ClassServer
	case e.StatusCode == 0:
		return ClassNetwork
	default:
		return ClassServer
	}
}

// NotFound builds the 404-class error for a remote path.
func NotFound(op, remotePath string) *RemoteError {
	return &RemoteError{Op: op, Path: remotePath, StatusCode: http.StatusNotFound, Message: "not found"}
}

// ClassOf returns the class of err, or ClassNetwork if it is not a RemoteError.
func ClassOf(err error) Class {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Class()
	}

	return ClassNetwork
}

// IsNotFound reports whether err is a 404-class remote error.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Class() == ClassNotFound
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode
	}

	return 0
}
