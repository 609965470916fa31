// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/manipulative/services/manipulative/overlay"
	"github.com/AleutianAI/manipulative/services/manipulative/protocol"
)

// Client must be usable wherever the overlay expects a Committer.
var _ overlay.Committer = (*Client)(nil)

var batch = []protocol.Update{{FileName: "/src/App.tsx", Position: 10, Value: "color: red;"}}

func TestClient_Commit(t *testing.T) {
	var got protocol.CommitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/commit", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(protocol.CommitResponse{Updates: got.Updates, Written: []string{"/src/App.tsx"}})
	}))
	defer srv.Close()

	err := NewClient(srv.URL+"/").Commit(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, batch, got.Updates)
}

func TestClient_CommitFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(protocol.CommitResponse{Failures: []protocol.FileFailure{
			{FileName: "/src/App.tsx", Code: protocol.CodeMalformedEdit, Error: "position 10: found identifier"},
		}})
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Commit(context.Background(), batch)
	var ce *CommitError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusUnprocessableEntity, ce.StatusCode)
	require.Len(t, ce.Failures, 1)
	assert.Equal(t, protocol.CodeMalformedEdit, ce.Failures[0].Code)
	assert.Contains(t, err.Error(), "/src/App.tsx (MALFORMED_EDIT)")
}

func TestClient_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Commit(context.Background(), batch)
	var ce *CommitError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusBadRequest, ce.StatusCode)
	assert.Equal(t, "invalid request body", ce.Message)
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewClient(url).WithTimeout(time.Second).Commit(context.Background(), batch)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, url+"/commit", te.URL)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestClient_Preview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("dry_run"))
		_ = json.NewEncoder(w).Encode(protocol.CommitResponse{
			DryRun: true,
			Diffs:  []protocol.FileDiff{{FileName: "/src/App.tsx", Diff: "--- a\n+++ b\n"}},
		})
	}))
	defer srv.Close()

	diffs, err := NewClient(srv.URL).Preview(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "/src/App.tsx", diffs[0].FileName)
}

func TestClient_DrivesOverlayCommit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := overlay.NewSession("t", nil)
	require.NoError(t, s.Register(batch[0].Key(), ""))
	v := "color: red;"
	require.NoError(t, s.Update(batch[0].Key().String(), overlay.Patch{Value: &v}))

	err := s.Commit(context.Background(), NewClient(srv.URL))
	require.Error(t, err)
	assert.Equal(t, 1, calls, "no automatic retry")
	assert.Contains(t, s.Snapshot().State.Error, "503")
	assert.False(t, s.Snapshot().State.Committing)
}
