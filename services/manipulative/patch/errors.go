// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/manipulative/services/manipulative/protocol"
)

var (
	// ErrInvalidUpdate indicates an update with no file name or a negative
	// position. The whole batch is rejected.
	ErrInvalidUpdate = errors.New("invalid update")

	// ErrPathNotAllowed indicates a relative path or one outside the
	// allowed roots.
	ErrPathNotAllowed = errors.New("path not allowed")

	// ErrFileRead indicates the source file could not be read.
	ErrFileRead = errors.New("file read error")

	// ErrMalformedEdit indicates a position that does not address a
	// placeholder attribute or hook call in the current file text.
	ErrMalformedEdit = errors.New("malformed edit")

	// ErrFormat indicates the formatter rejected the patched text.
	ErrFormat = errors.New("format error")

	// ErrFileWrite indicates the patched text could not be written.
	ErrFileWrite = errors.New("file write error")

	// ErrLockTimeout indicates the request ended while waiting for another
	// commit to the same file.
	ErrLockTimeout = errors.New("lock wait canceled")
)

// FileError is the failure of one file in a batch.
type FileError struct {
	Path string
	Code protocol.FailureCode
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Failure converts the error to its wire form.
func (e *FileError) Failure() protocol.FileFailure {
	return protocol.FileFailure{FileName: e.Path, Code: e.Code, Error: e.Err.Error()}
}

func fileError(path string, sentinel error, format string, args ...any) *FileError {
	return &FileError{
		Path: path,
		Code: codeFor(sentinel),
		Err:  fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...),
	}
}

func codeFor(err error) protocol.FailureCode {
	switch {
	case errors.Is(err, ErrPathNotAllowed):
		return protocol.CodePathNotAllowed
	case errors.Is(err, ErrFileRead):
		return protocol.CodeFileRead
	case errors.Is(err, ErrFormat):
		return protocol.CodeFormat
	case errors.Is(err, ErrFileWrite):
		return protocol.CodeFileWrite
	case errors.Is(err, ErrLockTimeout):
		return protocol.CodeLockTimeout
	default:
		return protocol.CodeMalformedEdit
	}
}
