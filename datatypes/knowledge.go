// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides request and response types for the engine.
//
// This file contains the knowledge-base management types: CRUD requests for
// KB metadata and the vector-store probe requests.
package datatypes

import (
	"fmt"
	"time"
)

// =============================================================================
// Knowledge Base Record
// =============================================================================

// Visibility levels for a knowledge base. Anything unrecognized normalizes
// to private.
const (
	VisibilityPrivate = "private"
	VisibilityTenant  = "tenant"
	VisibilityPublic  = "public"
)

// NormalizeVisibility maps arbitrary input to a supported visibility level.
func NormalizeVisibility(v string) string {
	switch v {
	case VisibilityTenant, VisibilityPublic:
		return v
	default:
		return VisibilityPrivate
	}
}

// KnowledgeBase is the stored metadata record for one knowledge base.
//
// The vector data itself lives in the external vector store; this record only
// tracks identity, ownership, and connection configuration. Deleted records
// are kept with Deleted=true so ids are never reused.
type KnowledgeBase struct {
	KBID              string         `json:"kb_id"`
	KBName            string         `json:"kb_name"`
	Owner             string         `json:"owner,omitempty"`
	Tenant            string         `json:"tenant,omitempty"`
	Visibility        string         `json:"visibility"`
	Description       string         `json:"description,omitempty"`
	EmbeddingModel    string         `json:"embedding_model,omitempty"`
	VectorStoreConfig map[string]any `json:"vector_store_config,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	Deleted           bool           `json:"deleted,omitempty"`
}

// =============================================================================
// CRUD Requests
// =============================================================================

// CreateKnowledgeBaseRequest creates a new KB metadata record.
type CreateKnowledgeBaseRequest struct {
	KBName            string         `json:"kb_name" validate:"required,max=256"`
	Owner             string         `json:"owner,omitempty"`
	Tenant            string         `json:"tenant,omitempty"`
	Visibility        string         `json:"visibility,omitempty"`
	Description       string         `json:"description,omitempty" validate:"max=4096"`
	EmbeddingModel    string         `json:"embedding_model,omitempty"`
	VectorStoreConfig map[string]any `json:"vector_store_config,omitempty"`
}

func (r *CreateKnowledgeBaseRequest) Validate() error {
	if err := payloadValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// EnsureDefaults normalizes the visibility level.
func (r *CreateKnowledgeBaseRequest) EnsureDefaults() {
	r.Visibility = NormalizeVisibility(r.Visibility)
}

// DeleteKnowledgeBaseRequest soft-deletes a KB record by id.
type DeleteKnowledgeBaseRequest struct {
	KBID string `json:"kb_id" validate:"required"`
}

func (r *DeleteKnowledgeBaseRequest) Validate() error {
	if err := payloadValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// UpdateKnowledgeBaseRequest patches mutable fields on a KB record. Nil
// pointers mean "leave unchanged".
type UpdateKnowledgeBaseRequest struct {
	KBID              string          `json:"kb_id" validate:"required"`
	KBName            *string         `json:"kb_name,omitempty" validate:"omitempty,max=256"`
	Visibility        *string         `json:"visibility,omitempty"`
	Description       *string         `json:"description,omitempty" validate:"omitempty,max=4096"`
	EmbeddingModel    *string         `json:"embedding_model,omitempty"`
	VectorStoreConfig *map[string]any `json:"vector_store_config,omitempty"`
}

func (r *UpdateKnowledgeBaseRequest) Validate() error {
	if err := payloadValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// ListKnowledgeBasesRequest pages through non-deleted KB records, optionally
// filtered by owner or tenant.
type ListKnowledgeBasesRequest struct {
	Owner    string `json:"owner,omitempty"`
	Tenant   string `json:"tenant,omitempty"`
	Page     int    `json:"page,omitempty" validate:"gte=0"`
	PageSize int    `json:"page_size,omitempty" validate:"gte=0,lte=200"`
}

func (r *ListKnowledgeBasesRequest) Validate() error {
	if err := payloadValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// EnsureDefaults applies first-page / default-size pagination.
func (r *ListKnowledgeBasesRequest) EnsureDefaults() {
	if r.Page <= 0 {
		r.Page = 1
	}
	if r.PageSize <= 0 {
		r.PageSize = 20
	}
}

// ListKnowledgeBasesResponse is one page of KB records plus the total count
// of records matching the filter.
type ListKnowledgeBasesResponse struct {
	Total int             `json:"total"`
	Items []KnowledgeBase `json:"items"`
}

// DetailKnowledgeBaseRequest fetches one KB record by id.
type DetailKnowledgeBaseRequest struct {
	KBID string `json:"kb_id" validate:"required"`
}

func (r *DetailKnowledgeBaseRequest) Validate() error {
	if err := payloadValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// =============================================================================
// Vector Store Probes
// =============================================================================

// TestConnectionRequest checks reachability of a vector store. When
// VectorStoreConfig is empty the engine-wide default endpoint is probed.
type TestConnectionRequest struct {
	VectorStoreConfig map[string]any `json:"vector_store_config,omitempty"`
}

// TestWriteRequest writes one probe object into the KB's collection and
// reports whether the round trip succeeded.
type TestWriteRequest struct {
	KBID string `json:"kb_id" validate:"required"`
}

func (r *TestWriteRequest) Validate() error {
	if err := payloadValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// ProbeResponse is the result of a vector-store probe.
type ProbeResponse struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// IngestResult summarizes one document ingest: how many chunks were written
// and where the original was archived, when an upload endpoint is configured.
type IngestResult struct {
	KBID      string `json:"kb_id"`
	Filename  string `json:"filename"`
	Chunks    int    `json:"chunks"`
	SourceURL string `json:"source_url,omitempty"`
}
