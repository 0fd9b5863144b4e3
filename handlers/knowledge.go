// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spotlightai/engine/datatypes"
	"github.com/spotlightai/engine/fileparser"
	"github.com/spotlightai/engine/knowledge"
	"github.com/spotlightai/engine/observability"
)

// maxUploadBytes caps one uploaded document. Documents beyond this are
// rejected before parsing.
const maxUploadBytes = 20 << 20

// KnowledgeHandler serves the /v1/knowledge management endpoints.
//
// All endpoints except upload_doc are plain JSON request/response; nothing
// here streams.
type KnowledgeHandler struct {
	svc *knowledge.Service
	ing *knowledge.Ingestor
}

// NewKnowledgeHandler builds the handler around a knowledge service and its
// document ingestor.
func NewKnowledgeHandler(svc *knowledge.Service, ing *knowledge.Ingestor) *KnowledgeHandler {
	return &KnowledgeHandler{svc: svc, ing: ing}
}

// HandleCreate creates a new knowledge-base record.
func (h *KnowledgeHandler) HandleCreate(c *gin.Context) {
	var req datatypes.CreateKnowledgeBaseRequest
	if !bindKnowledgeRequest(c, &req) {
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		knowledgeError(c, err)
		return
	}
	kb, err := h.svc.Create(c.Request.Context(), &req)
	if err != nil {
		knowledgeError(c, err)
		return
	}
	observability.DefaultMetrics.RecordRequest(observability.EndpointKnowledge, true)
	c.JSON(http.StatusOK, kb)
}

// HandleDelete soft-deletes a knowledge-base record.
func (h *KnowledgeHandler) HandleDelete(c *gin.Context) {
	var req datatypes.DeleteKnowledgeBaseRequest
	if !bindKnowledgeRequest(c, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		knowledgeError(c, err)
		return
	}
	if err := h.svc.Delete(c.Request.Context(), req.KBID); err != nil {
		knowledgeError(c, err)
		return
	}
	observability.DefaultMetrics.RecordRequest(observability.EndpointKnowledge, true)
	c.JSON(http.StatusOK, gin.H{"kb_id": req.KBID, "deleted": true})
}

// HandleUpdate patches mutable fields on a knowledge-base record.
func (h *KnowledgeHandler) HandleUpdate(c *gin.Context) {
	var req datatypes.UpdateKnowledgeBaseRequest
	if !bindKnowledgeRequest(c, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		knowledgeError(c, err)
		return
	}
	kb, err := h.svc.Update(c.Request.Context(), &req)
	if err != nil {
		knowledgeError(c, err)
		return
	}
	observability.DefaultMetrics.RecordRequest(observability.EndpointKnowledge, true)
	c.JSON(http.StatusOK, kb)
}

// HandleList returns one page of knowledge-base records.
func (h *KnowledgeHandler) HandleList(c *gin.Context) {
	var req datatypes.ListKnowledgeBasesRequest
	if !bindKnowledgeRequest(c, &req) {
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		knowledgeError(c, err)
		return
	}
	resp, err := h.svc.List(c.Request.Context(), &req)
	if err != nil {
		knowledgeError(c, err)
		return
	}
	observability.DefaultMetrics.RecordRequest(observability.EndpointKnowledge, true)
	c.JSON(http.StatusOK, resp)
}

// HandleDetail returns a single knowledge-base record by id.
func (h *KnowledgeHandler) HandleDetail(c *gin.Context) {
	var req datatypes.DetailKnowledgeBaseRequest
	if !bindKnowledgeRequest(c, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		knowledgeError(c, err)
		return
	}
	kb, err := h.svc.Get(c.Request.Context(), req.KBID)
	if err != nil {
		knowledgeError(c, err)
		return
	}
	observability.DefaultMetrics.RecordRequest(observability.EndpointKnowledge, true)
	c.JSON(http.StatusOK, kb)
}

// HandleTestConnection probes reachability of a vector store. Probe failure
// is reported in the body, not as an HTTP error.
func (h *KnowledgeHandler) HandleTestConnection(c *gin.Context) {
	var req datatypes.TestConnectionRequest
	if !bindKnowledgeRequest(c, &req) {
		return
	}
	resp := h.svc.TestConnection(c.Request.Context(), req.VectorStoreConfig)
	observability.DefaultMetrics.RecordRequest(observability.EndpointKnowledge, true)
	c.JSON(http.StatusOK, resp)
}

// HandleTestWrite writes one probe object into the KB's collection.
func (h *KnowledgeHandler) HandleTestWrite(c *gin.Context) {
	var req datatypes.TestWriteRequest
	if !bindKnowledgeRequest(c, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		knowledgeError(c, err)
		return
	}
	resp, err := h.svc.TestWrite(c.Request.Context(), req.KBID)
	if err != nil {
		knowledgeError(c, err)
		return
	}
	observability.DefaultMetrics.RecordRequest(observability.EndpointKnowledge, true)
	c.JSON(http.StatusOK, resp)
}

// HandleUploadDoc ingests one multipart-uploaded document into a KB: file
// under the "file" field, target KB under "kb_id".
func (h *KnowledgeHandler) HandleUploadDoc(c *gin.Context) {
	kbID := c.PostForm("kb_id")
	if kbID == "" {
		knowledgeError(c, fmt.Errorf("%w: kb_id is required", datatypes.ErrInvalidPayload))
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		knowledgeError(c, fmt.Errorf("%w: missing file field: %v", datatypes.ErrInvalidPayload, err))
		return
	}
	if fileHeader.Size > maxUploadBytes {
		knowledgeError(c, fmt.Errorf("%w: file exceeds %d bytes", datatypes.ErrInvalidPayload, maxUploadBytes))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		knowledgeError(c, err)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		knowledgeError(c, err)
		return
	}

	result, err := h.ing.IngestDocument(c.Request.Context(), kbID, fileHeader.Filename, data)
	if err != nil {
		if errors.Is(err, fileparser.ErrUnsupported) {
			knowledgeError(c, fmt.Errorf("%w: %v", datatypes.ErrInvalidPayload, err))
			return
		}
		knowledgeError(c, err)
		return
	}
	observability.DefaultMetrics.RecordRequest(observability.EndpointKnowledge, true)
	c.JSON(http.StatusOK, result)
}

// bindKnowledgeRequest decodes the JSON body, answering 400 itself on
// failure. Returns false when the request has already been answered.
func bindKnowledgeRequest(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		observability.DefaultMetrics.RecordRequest(observability.EndpointKnowledge, false)
		observability.DefaultMetrics.RecordError(observability.EndpointKnowledge, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

// knowledgeError maps service errors onto HTTP status codes. Validation
// failures and not-found keep their text; anything else is sanitized.
func knowledgeError(c *gin.Context, err error) {
	m := observability.DefaultMetrics
	m.RecordRequest(observability.EndpointKnowledge, false)
	switch {
	case errors.Is(err, datatypes.ErrInvalidPayload):
		m.RecordError(observability.EndpointKnowledge, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, knowledge.ErrNotFound):
		m.RecordError(observability.EndpointKnowledge, observability.ErrorCodeInternal)
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		m.RecordError(observability.EndpointKnowledge, observability.ErrorCodeInternal)
		slog.Error("knowledge request failed", "error", truncateForLog(err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
