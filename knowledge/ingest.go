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
	"log/slog"

	"github.com/spotlightai/engine/datatypes"
	"github.com/spotlightai/engine/fileparser"
	"github.com/spotlightai/engine/storage"
)

// Ingestor turns uploaded documents into chunk objects in a KB's collection.
//
// # Description
//
// One ingest is parse → chunk → archive → write: the file is converted to
// markdown, split into overlapping chunks, the original bytes are archived via
// the upload client when one is configured, and each chunk becomes one object
// in the KB's vector-store collection.
type Ingestor struct {
	svc     *Service
	uploads *storage.UploadClient
}

// NewIngestor builds an ingestor. uploads may be nil; originals are then not
// archived.
func NewIngestor(svc *Service, uploads *storage.UploadClient) *Ingestor {
	return &Ingestor{svc: svc, uploads: uploads}
}

// IngestDocument ingests one document into the knowledge base under kbID.
//
// # Outputs
//
//   - *datatypes.IngestResult: Chunk count and archive URL on success.
//   - error: ErrNotFound for unknown KBs, fileparser.ErrUnsupported for
//     unconvertible files, otherwise the first failed chunk write.
func (ing *Ingestor) IngestDocument(ctx context.Context, kbID, filename string, data []byte) (*datatypes.IngestResult, error) {
	kb, err := ing.svc.Get(ctx, kbID)
	if err != nil {
		return nil, err
	}

	chunks, err := fileparser.Parse(filename, data, fileparser.DefaultChunkSize, fileparser.DefaultChunkOverlap)
	if err != nil {
		return nil, err
	}

	// Archiving the original is best-effort; chunk writes are not.
	var sourceURL string
	if ing.uploads != nil {
		sourceURL, err = ing.uploads.Upload(ctx, filename, data)
		if err != nil {
			slog.Warn("archiving original failed, continuing ingest",
				"kb_id", kbID, "filename", filename, "error", err)
			sourceURL = ""
		}
	}

	client, err := ing.svc.vectorClient(kb.VectorStoreConfig)
	if err != nil {
		return nil, err
	}
	class := collectionName(kb)
	for i, chunk := range chunks {
		_, err := client.Data().Creator().
			WithClassName(class).
			WithProperties(map[string]any{
				"content":     chunk,
				"kb_id":       kb.KBID,
				"source_file": filename,
				"source_url":  sourceURL,
				"chunk_index": i,
			}).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("writing chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}

	return &datatypes.IngestResult{
		KBID:      kb.KBID,
		Filename:  filename,
		Chunks:    len(chunks),
		SourceURL: sourceURL,
	}, nil
}
