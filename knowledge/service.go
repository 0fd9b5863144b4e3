// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package knowledge manages knowledge-base metadata records.
//
// Records live in a local badger store; the vector data they describe lives
// in an external vector store reachable through each record's
// vector_store_config. Deletes are soft so a kb_id is never reused.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/spotlightai/engine/datatypes"
)

// ErrNotFound marks lookups of missing or deleted knowledge bases.
var ErrNotFound = errors.New("knowledge base not found")

// kbKeyPrefix namespaces KB records inside the shared badger store.
const kbKeyPrefix = "kb:"

// Service provides CRUD over knowledge-base metadata plus vector-store
// probes.
//
// # Thread Safety
//
// Safe for concurrent use; badger transactions provide isolation.
type Service struct {
	db         *badger.DB
	defaultURL string
}

// NewService wraps an open badger store. defaultURL is the vector-store
// endpoint probed when a request carries no connection config.
func NewService(db *badger.DB, defaultURL string) *Service {
	return &Service{db: db, defaultURL: defaultURL}
}

func kbKey(id string) []byte {
	return []byte(kbKeyPrefix + id)
}

// Create stores a new KB record and returns it with generated id and
// timestamps.
func (s *Service) Create(_ context.Context, req *datatypes.CreateKnowledgeBaseRequest) (*datatypes.KnowledgeBase, error) {
	now := time.Now().UTC()
	kb := &datatypes.KnowledgeBase{
		KBID:              uuid.NewString(),
		KBName:            req.KBName,
		Owner:             req.Owner,
		Tenant:            req.Tenant,
		Visibility:        datatypes.NormalizeVisibility(req.Visibility),
		Description:       req.Description,
		EmbeddingModel:    req.EmbeddingModel,
		VectorStoreConfig: req.VectorStoreConfig,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.put(kb); err != nil {
		return nil, err
	}
	return kb, nil
}

// Get returns the KB record under id. Deleted records are reported as not
// found.
func (s *Service) Get(_ context.Context, id string) (*datatypes.KnowledgeBase, error) {
	kb, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if kb.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return kb, nil
}

// Update patches the mutable fields of a KB record. Nil request fields are
// left unchanged.
func (s *Service) Update(ctx context.Context, req *datatypes.UpdateKnowledgeBaseRequest) (*datatypes.KnowledgeBase, error) {
	kb, err := s.Get(ctx, req.KBID)
	if err != nil {
		return nil, err
	}
	if req.KBName != nil {
		kb.KBName = *req.KBName
	}
	if req.Visibility != nil {
		kb.Visibility = datatypes.NormalizeVisibility(*req.Visibility)
	}
	if req.Description != nil {
		kb.Description = *req.Description
	}
	if req.EmbeddingModel != nil {
		kb.EmbeddingModel = *req.EmbeddingModel
	}
	if req.VectorStoreConfig != nil {
		kb.VectorStoreConfig = *req.VectorStoreConfig
	}
	kb.UpdatedAt = time.Now().UTC()
	if err := s.put(kb); err != nil {
		return nil, err
	}
	return kb, nil
}

// Delete soft-deletes the KB record under id.
func (s *Service) Delete(ctx context.Context, id string) error {
	kb, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	kb.Deleted = true
	kb.UpdatedAt = time.Now().UTC()
	return s.put(kb)
}

// List returns one page of live KB records matching the filter, newest
// first, plus the total match count.
func (s *Service) List(_ context.Context, req *datatypes.ListKnowledgeBasesRequest) (*datatypes.ListKnowledgeBasesResponse, error) {
	var matches []datatypes.KnowledgeBase
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(kbKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var kb datatypes.KnowledgeBase
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &kb)
			}); err != nil {
				return fmt.Errorf("decoding record: %w", err)
			}
			if kb.Deleted {
				continue
			}
			if req.Owner != "" && kb.Owner != req.Owner {
				continue
			}
			if req.Tenant != "" && kb.Tenant != req.Tenant {
				continue
			}
			matches = append(matches, kb)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	total := len(matches)
	start := (req.Page - 1) * req.PageSize
	if start > total {
		start = total
	}
	end := start + req.PageSize
	if end > total {
		end = total
	}
	return &datatypes.ListKnowledgeBasesResponse{
		Total: total,
		Items: matches[start:end],
	}, nil
}

func (s *Service) put(kb *datatypes.KnowledgeBase) error {
	data, err := json.Marshal(kb)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", kb.KBID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(kbKey(kb.KBID), data)
	})
}

func (s *Service) load(id string) (*datatypes.KnowledgeBase, error) {
	var kb datatypes.KnowledgeBase
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(kbKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &kb)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &kb, nil
}
