// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol holds the wire types of the commit endpoint.
//
// Both the HTTP service and the overlay-side client speak these types, so
// they live in a leaf package with no dependencies beyond location.
package protocol

import (
	"github.com/AleutianAI/manipulative/services/manipulative/location"
)

// Update is one (fileName, position, value) triple of a commit batch.
type Update struct {
	// FileName is the absolute path of the source file.
	FileName string `json:"fileName" binding:"required"`

	// Position is the byte offset of the site, as captured at instrumentation.
	Position int `json:"position" binding:"min=0"`

	// Value is the new style text. Empty or whitespace removes the style.
	Value string `json:"value"`
}

// Key returns the location key addressed by the update.
func (u Update) Key() location.Key {
	return location.Key{FilePath: u.FileName, Offset: u.Position}
}

// CommitRequest is the body of POST /commit.
type CommitRequest struct {
	Updates []Update `json:"updates" binding:"required,dive"`
}

// FailureCode classifies why a file could not be patched.
type FailureCode string

const (
	// CodePathNotAllowed means the file is outside the allowed roots or
	// the path is not absolute.
	CodePathNotAllowed FailureCode = "PATH_NOT_ALLOWED"

	// CodeFileRead means the file could not be read.
	CodeFileRead FailureCode = "FILE_READ_ERROR"

	// CodeMalformedEdit means a position no longer addresses a placeholder
	// or style call.
	CodeMalformedEdit FailureCode = "MALFORMED_EDIT"

	// CodeFormat means the formatter rejected the patched text.
	CodeFormat FailureCode = "FORMAT_ERROR"

	// CodeFileWrite means the patched text could not be written.
	CodeFileWrite FailureCode = "FILE_WRITE_ERROR"

	// CodeLockTimeout means the commit gave up waiting for another commit
	// on the same file.
	CodeLockTimeout FailureCode = "LOCK_TIMEOUT"
)

// FileFailure reports one file that was not patched.
type FileFailure struct {
	FileName string      `json:"fileName"`
	Code     FailureCode `json:"code"`
	Error    string      `json:"error"`
}

// FileDiff is a unified diff of one file, produced by dry runs.
type FileDiff struct {
	FileName string `json:"fileName"`
	Diff     string `json:"diff"`
}

// CommitResponse is the body returned by POST /commit.
//
// Updates echoes the applied batch on success and is omitted otherwise, so
// clients that only look at the status code keep working.
type CommitResponse struct {
	Updates  []Update      `json:"updates,omitempty"`
	Written  []string      `json:"written,omitempty"`
	Failures []FileFailure `json:"failures,omitempty"`
	Diffs    []FileDiff    `json:"diffs,omitempty"`
	DryRun   bool          `json:"dryRun,omitempty"`
}

// ErrorResponse is returned for requests that never reached the engine.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
