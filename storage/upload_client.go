// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage provides the generic file upload client.
//
// The engine does not store files itself; generated artifacts are pushed to
// a configured HTTP upload endpoint and referenced by the returned URL.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// maxUploadResponseBytes caps how much of the upload response is read.
const maxUploadResponseBytes = 64 * 1024

// UploadClient pushes file bytes to an HTTP endpoint via multipart form.
type UploadClient struct {
	endpoint string
	client   *http.Client
}

// NewUploadClient builds a client for the given endpoint. A zero timeout
// defaults to 30 seconds.
func NewUploadClient(endpoint string, timeout time.Duration) *UploadClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &UploadClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Upload sends data as a multipart "file" field and returns the URL the
// endpoint assigned to it. Both {"url": ...} and {"data": {"url": ...}}
// response shapes are accepted.
func (c *UploadClient) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	if c.endpoint == "" {
		return "", errors.New("no upload endpoint configured")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("building multipart form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("writing file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading %q: %w", filename, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUploadResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading upload response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("upload endpoint returned %d", resp.StatusCode)
	}
	return extractURL(raw)
}

// extractURL pulls the assigned URL out of the response body.
func extractURL(raw []byte) (string, error) {
	var decoded struct {
		URL  string `json:"url"`
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if decoded.URL != "" {
		return decoded.URL, nil
	}
	if decoded.Data.URL != "" {
		return decoded.Data.URL, nil
	}
	return "", errors.New("upload response carries no url")
}
