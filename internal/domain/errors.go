package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Distribution point errors
var (
	// ErrProgramming indicates an operation a variant must override was not overridden
	ErrProgramming = errors.New("programming error")

	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrPermissionDenied indicates insufficient permissions
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotDirectory indicates expected a directory but got a file
	ErrNotDirectory = errors.New("not a directory")

	// ErrReadOnly indicates a write was attempted on a read-only distribution point
	ErrReadOnly = errors.New("distribution point is read-only")

	// ErrCanceled marks cancellation; it is reported, never counted as a failure
	ErrCanceled = errors.New("canceled")
)

// Server and transfer errors
var (
	// ErrAuthentication indicates invalid or missing credentials
	ErrAuthentication = errors.New("authentication failed")

	// ErrForbidden indicates the credentials lack a privilege
	ErrForbidden = errors.New("forbidden")

	// ErrTransient covers timeouts and 5xx responses
	ErrTransient = errors.New("transient network error")

	// ErrFileTooLarge indicates a file above the upload ceiling
	ErrFileTooLarge = errors.New("file exceeds maximum upload size")

	// ErrContentTooLarge indicates the server rejected the body size
	ErrContentTooLarge = errors.New("content too large")

	// ErrInvalidResponse indicates a malformed server response
	ErrInvalidResponse = errors.New("invalid server response")

	// ErrDuplicateEntry indicates the package record already exists
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrCredentialsExpired indicates upload credentials expired with no way to renew them
	ErrCredentialsExpired = errors.New("upload credentials expired")
)

// Sync errors
var (
	// ErrSyncInProgress indicates another sync of the same pair is already running
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrFilesNotLoaded indicates a catalog was used before listing it
	ErrFilesNotLoaded = errors.New("files not loaded")

	// ErrTransferIncomplete indicates some files of a sync were not transferred
	ErrTransferIncomplete = errors.New("not all files were transferred")
)

// Config errors
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")

	// ErrDistributionPointNotFound indicates a referenced distribution point doesn't exist
	ErrDistributionPointNotFound = errors.New("distribution point not found")

	// ErrServerNotFound indicates a referenced server doesn't exist
	ErrServerNotFound = errors.New("server not found")
)

// MountReason explains why a share could not be mounted
type MountReason string

const (
	MountAddressMissing   MountReason = "address missing"
	MountShareNameMissing MountReason = "share name missing"
	MountNoUsername       MountReason = "no username"
	MountNoPassword       MountReason = "no password"
	MountFailed           MountReason = "mount failed"
)

// MountError is returned when preparing a file share fails
type MountError struct {
	Reason MountReason
	Err    error
}

func (e *MountError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mount failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("mount failure: %s", e.Reason)
}

func (e *MountError) Unwrap() error {
	return e.Err
}

// APIError describes a non-2xx HTTP response from a server
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap maps the status code onto the error taxonomy
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ErrAuthentication
	case e.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusRequestEntityTooLarge:
		return ErrContentTooLarge
	case e.StatusCode >= 500:
		return ErrTransient
	}
	return nil
}

// IsCanceled reports whether err is a cancellation rather than a failure
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}
