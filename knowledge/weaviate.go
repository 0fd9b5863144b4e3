// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package knowledge manages knowledge-base metadata records.
//
// This file implements the vector-store probes: a readiness check and a
// one-object write used to verify a knowledge base's connection config
// before ingestion is pointed at it.
package knowledge

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/spotlightai/engine/datatypes"
)

// TestConnection probes the vector store's readiness endpoint. The endpoint
// comes from cfg["url"] when present, otherwise the engine default. Probe
// failures are reported in the response, not as errors; the HTTP layer
// always answers 200 with the probe result.
func (s *Service) TestConnection(ctx context.Context, cfg map[string]any) *datatypes.ProbeResponse {
	client, err := s.vectorClient(cfg)
	if err != nil {
		return &datatypes.ProbeResponse{OK: false, Detail: err.Error()}
	}
	ready, err := client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return &datatypes.ProbeResponse{OK: false, Detail: fmt.Sprintf("readiness check failed: %v", err)}
	}
	if !ready {
		return &datatypes.ProbeResponse{OK: false, Detail: "vector store reports not ready"}
	}
	return &datatypes.ProbeResponse{OK: true}
}

// TestWrite writes one probe object into the KB's collection and reports the
// result. The object is tagged as a probe so housekeeping can clean it up.
func (s *Service) TestWrite(ctx context.Context, kbID string) (*datatypes.ProbeResponse, error) {
	kb, err := s.Get(ctx, kbID)
	if err != nil {
		return nil, err
	}
	client, err := s.vectorClient(kb.VectorStoreConfig)
	if err != nil {
		return &datatypes.ProbeResponse{OK: false, Detail: err.Error()}, nil
	}

	obj, err := client.Data().Creator().
		WithClassName(collectionName(kb)).
		WithProperties(map[string]any{
			"content":  "connectivity probe",
			"kb_id":    kb.KBID,
			"probe":    true,
			"probe_at": time.Now().UnixMilli(),
		}).
		Do(ctx)
	if err != nil {
		return &datatypes.ProbeResponse{OK: false, Detail: fmt.Sprintf("probe write failed: %v", err)}, nil
	}
	detail := ""
	if obj != nil && obj.Object != nil {
		detail = fmt.Sprintf("wrote object %s", obj.Object.ID)
	}
	return &datatypes.ProbeResponse{OK: true, Detail: detail}, nil
}

// vectorClient builds a weaviate client from a KB's connection config,
// falling back to the engine-wide default endpoint.
func (s *Service) vectorClient(cfg map[string]any) (*weaviate.Client, error) {
	rawURL := s.defaultURL
	if cfg != nil {
		if u, ok := cfg["url"].(string); ok && u != "" {
			rawURL = u
		}
	}
	rawURL = strings.Trim(rawURL, "\"' ")
	if rawURL == "" {
		return nil, fmt.Errorf("no vector store endpoint configured")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid vector store endpoint %q", rawURL)
	}
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return weaviate.NewClient(weaviate.Config{Host: parsed.Host, Scheme: scheme})
}

// collectionName derives the weaviate class for a KB. Class names must start
// with an uppercase letter and stay alphanumeric, so the kb_id is reduced to
// its hex characters.
func collectionName(kb *datatypes.KnowledgeBase) string {
	var b strings.Builder
	b.WriteString("KB")
	for _, r := range kb.KBID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
