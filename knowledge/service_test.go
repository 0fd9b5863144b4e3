// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotlightai/engine/datatypes"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewService(db, "")
}

func TestCreateAndGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	kb, err := svc.Create(ctx, &datatypes.CreateKnowledgeBaseRequest{
		KBName:     "docs",
		Owner:      "alex",
		Visibility: "bogus",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, kb.KBID)
	assert.Equal(t, datatypes.VisibilityPrivate, kb.Visibility, "unknown visibility normalizes to private")
	assert.False(t, kb.CreatedAt.IsZero())

	got, err := svc.Get(ctx, kb.KBID)
	require.NoError(t, err)
	assert.Equal(t, kb.KBID, got.KBID)
	assert.Equal(t, "docs", got.KBName)
}

func TestGetMissing(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePatchesOnlyProvidedFields(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	kb, err := svc.Create(ctx, &datatypes.CreateKnowledgeBaseRequest{
		KBName:      "docs",
		Description: "original",
	})
	require.NoError(t, err)

	newName := "handbook"
	updated, err := svc.Update(ctx, &datatypes.UpdateKnowledgeBaseRequest{
		KBID:   kb.KBID,
		KBName: &newName,
	})
	require.NoError(t, err)
	assert.Equal(t, "handbook", updated.KBName)
	assert.Equal(t, "original", updated.Description, "unset fields stay unchanged")
	assert.True(t, updated.UpdatedAt.After(kb.UpdatedAt) || updated.UpdatedAt.Equal(kb.UpdatedAt))
}

func TestDeleteIsSoft(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	kb, err := svc.Create(ctx, &datatypes.CreateKnowledgeBaseRequest{KBName: "temp"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, kb.KBID))

	_, err = svc.Get(ctx, kb.KBID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting twice reports not found, not a crash.
	assert.ErrorIs(t, svc.Delete(ctx, kb.KBID), ErrNotFound)

	// The record is retained under the hood with the deleted flag set.
	raw, err := svc.load(kb.KBID)
	require.NoError(t, err)
	assert.True(t, raw.Deleted)
}

func TestListFiltersAndPaginates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Create(ctx, &datatypes.CreateKnowledgeBaseRequest{
			KBName: fmt.Sprintf("kb-%d", i),
			Owner:  "alex",
		})
		require.NoError(t, err)
	}
	other, err := svc.Create(ctx, &datatypes.CreateKnowledgeBaseRequest{KBName: "other", Owner: "sam"})
	require.NoError(t, err)
	deleted, err := svc.Create(ctx, &datatypes.CreateKnowledgeBaseRequest{KBName: "gone", Owner: "alex"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, deleted.KBID))

	resp, err := svc.List(ctx, &datatypes.ListKnowledgeBasesRequest{Owner: "alex", Page: 1, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Total, "deleted and other-owner records excluded from total")
	assert.Len(t, resp.Items, 3)

	resp, err = svc.List(ctx, &datatypes.ListKnowledgeBasesRequest{Owner: "alex", Page: 2, PageSize: 3})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 2)

	// Past-the-end pages are empty, not an error.
	resp, err = svc.List(ctx, &datatypes.ListKnowledgeBasesRequest{Owner: "alex", Page: 9, PageSize: 3})
	require.NoError(t, err)
	assert.Empty(t, resp.Items)

	resp, err = svc.List(ctx, &datatypes.ListKnowledgeBasesRequest{Owner: "sam", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, other.KBID, resp.Items[0].KBID)
}

func TestTestConnectionNoEndpoint(t *testing.T) {
	svc := newTestService(t)
	resp := svc.TestConnection(context.Background(), nil)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Detail, "no vector store endpoint")
}

func TestTestConnectionAgainstMockStore(t *testing.T) {
	ready := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/.well-known/ready" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer ready.Close()

	svc := newTestService(t)
	resp := svc.TestConnection(context.Background(), map[string]any{"url": ready.URL})
	assert.True(t, resp.OK, "detail: %s", resp.Detail)
}

func TestTestWriteUnknownKB(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.TestWrite(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCollectionName(t *testing.T) {
	kb := &datatypes.KnowledgeBase{KBID: "3f2a-77b1"}
	assert.Equal(t, "KB3f2a77b1", collectionName(kb))
}
