// Package errors defines the upload error taxonomy used throughout Sealbox.
package errors

import "fmt"

// UploadError represents an upload API error with a machine-readable code,
// human-readable message, and HTTP status code.
type UploadError struct {
	// Code is the error code (e.g., "NotFound", "Gone").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the HTTP status code to return (e.g., 404, 410).
	HTTPStatus int
}

// Error implements the error interface for UploadError.
func (e *UploadError) Error() string {
	return fmt.Sprintf("UploadError %s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// OffsetMismatchError is returned when an append's claimed offset does not
// match the session's authoritative offset. It carries the current offset so
// the client can resynchronize and retry at the right position.
type OffsetMismatchError struct {
	// CurrentOffset is the session's authoritative offset at the time of the
	// failed append.
	CurrentOffset int64
}

// Error implements the error interface for OffsetMismatchError.
func (e *OffsetMismatchError) Error() string {
	return fmt.Sprintf("UploadError OffsetMismatch (409): upload offset does not match, current offset is %d", e.CurrentOffset)
}

// Pre-defined upload errors for common conditions.
var (
	// ErrInvalidArgument is returned when creation parameters are invalid.
	ErrInvalidArgument = &UploadError{
		Code:       "InvalidArgument",
		Message:    "Invalid Argument",
		HTTPStatus: 400,
	}

	// ErrMissingUploadLength is returned when the Upload-Length header is
	// absent or not a positive integer.
	ErrMissingUploadLength = &UploadError{
		Code:       "MissingUploadLength",
		Message:    "You must provide a positive Upload-Length header",
		HTTPStatus: 400,
	}

	// ErrMissingUploadOffset is returned when the Upload-Offset header is
	// absent or not a valid integer.
	ErrMissingUploadOffset = &UploadError{
		Code:       "MissingUploadOffset",
		Message:    "You must provide a valid Upload-Offset header",
		HTTPStatus: 400,
	}

	// ErrInvalidID is returned when a session id is malformed or unsafe.
	// Deliberately indistinguishable from an unknown session: the response
	// never reveals whether a differently-shaped id might exist.
	ErrInvalidID = &UploadError{
		Code:       "NotFound",
		Message:    "The specified upload does not exist",
		HTTPStatus: 404,
	}

	// ErrNotFound is returned when the session does not exist.
	ErrNotFound = &UploadError{
		Code:       "NotFound",
		Message:    "The specified upload does not exist",
		HTTPStatus: 404,
	}

	// ErrGone is returned when the session is already complete and accepts
	// no further bytes.
	ErrGone = &UploadError{
		Code:       "Gone",
		Message:    "The upload is already complete",
		HTTPStatus: 410,
	}

	// ErrIncompleteUpload is returned when finalize is attempted before all
	// declared bytes have arrived.
	ErrIncompleteUpload = &UploadError{
		Code:       "IncompleteUpload",
		Message:    "The upload has not received all declared bytes",
		HTTPStatus: 400,
	}

	// ErrUploadTooLarge is returned when the declared length exceeds the
	// configured maximum.
	ErrUploadTooLarge = &UploadError{
		Code:       "UploadTooLarge",
		Message:    "The declared upload length exceeds the maximum allowed size",
		HTTPStatus: 413,
	}

	// ErrUnauthorized is returned when the caller is not authenticated.
	ErrUnauthorized = &UploadError{
		Code:       "Unauthorized",
		Message:    "Authentication required",
		HTTPStatus: 401,
	}

	// ErrMethodNotAllowed is returned when the HTTP method is not supported
	// on the resource.
	ErrMethodNotAllowed = &UploadError{
		Code:       "MethodNotAllowed",
		Message:    "The specified method is not allowed against this resource",
		HTTPStatus: 405,
	}

	// ErrInternalError is returned for unexpected internal failures.
	ErrInternalError = &UploadError{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: 500,
	}
)
