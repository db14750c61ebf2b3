// Package fserr classifies filesystem tool failures so they can be reported
// to the caller without exposing host paths the caller never supplied.
package fserr

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Kind identifies a class of error for programmatic handling.
type Kind string

const (
	KindInvalidArguments Kind = "invalid_arguments"
	KindAccessDenied     Kind = "access_denied"
	KindNotFound         Kind = "not_found"
	KindEditNotFound     Kind = "edit_not_found"
	KindIO               Kind = "io_error"
)

// Error wraps an underlying error with a kind and message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		if e.Err != nil {
			return e.Err.Error()
		}
		return string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// InvalidArguments reports missing, malformed or conflicting parameters.
func InvalidArguments(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArguments, Message: fmt.Sprintf(format, args...)}
}

// AccessDenied reports a path outside the allowed directories. The message
// should only ever name the path the caller submitted.
func AccessDenied(format string, args ...any) *Error {
	return &Error{Kind: KindAccessDenied, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing path or missing parent directory.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// EditNotFound reports an edit whose old text is absent from the content.
func EditNotFound(format string, args ...any) *Error {
	return &Error{Kind: KindEditNotFound, Message: fmt.Sprintf(format, args...)}
}

// IO wraps an underlying read/write/move failure. Host paths carried by
// *fs.PathError and *os.LinkError are dropped in favour of userPath.
func IO(action, userPath string, err error) *Error {
	msg := "failed to " + action
	if userPath != "" {
		msg += " " + userPath
	}
	return &Error{Kind: KindIO, Message: msg, Err: sanitise(err)}
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Unclassified errors are reported as I/O errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindIO
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// sanitise strips path details from OS errors while keeping them matchable
// with errors.Is (fs.ErrNotExist, fs.ErrPermission, ...).
func sanitise(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return linkErr.Err
	}
	return err
}
