package util

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrInvalidPackage is returned when an uploaded archive or its manifest can not be used.
	ErrInvalidPackage = errors.New("invalid package")
	// ErrS3Connection is returned when the object store can not be reached.
	ErrS3Connection = errors.New("unable to connect to object store")
	// ErrS3FileUpload is returned when a file could not be written to the object store.
	ErrS3FileUpload = errors.New("unable to upload file")
)

// NewUserError returns an error that carries a grpc code so callers can classify it.
func NewUserError(code codes.Code, message string) error {
	return status.Error(code, message)
}

// NewUserErrorf is NewUserError with formatting.
func NewUserErrorf(code codes.Code, format string, args ...interface{}) error {
	return status.Errorf(code, format, args...)
}

func pqError(err *pq.Error) (code codes.Code) {
	switch err.Code {
	case "23505":
		code = codes.AlreadyExists
	case "23503":
		code = codes.FailedPrecondition
	default:
		code = codes.Unknown
	}
	return
}

// NewUserErrorWrap converts a database error into a user error about entity.
func NewUserErrorWrap(err error, entity string) error {
	var (
		code    codes.Code
		message string
		pqErr   *pq.Error
	)
	if errors.As(err, &pqErr) {
		code = pqError(pqErr)
		switch code {
		case codes.AlreadyExists:
			message = fmt.Sprintf("%v already exists.", entity)
		case codes.FailedPrecondition:
			message = fmt.Sprintf("%v references a missing entity.", entity)
		default:
			message = "Unknown error."
		}
	} else {
		code = codes.Unknown
		message = "Unknown error."
	}

	return NewUserError(code, message)
}

// Code returns the grpc code carried by err, or codes.Unknown.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}

	return codes.Unknown
}

// IsNotFound returns true if err was created with codes.NotFound.
func IsNotFound(err error) bool {
	return Code(err) == codes.NotFound
}

// causeError carries a grpc code while still matching its cause with errors.Is and errors.As.
type causeError struct {
	code    codes.Code
	message string
	cause   error
}

func (e *causeError) Error() string {
	return e.message
}

func (e *causeError) Unwrap() error {
	return e.cause
}

func (e *causeError) GRPCStatus() *status.Status {
	return status.New(e.code, e.message)
}

// NewUserErrorWithCause returns a user error with code and message that wraps cause.
func NewUserErrorWithCause(code codes.Code, cause error, message string) error {
	return &causeError{code: code, message: message, cause: cause}
}
