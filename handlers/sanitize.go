// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"

	"github.com/spotlightai/engine/datatypes"
	"github.com/spotlightai/engine/workflows"
)

// genericStreamError is the only error text clients see for failures that
// are not explicitly whitelisted. Raw error text can leak hosts, paths, and
// credentials, so everything unexpected collapses to this.
const genericStreamError = "workflow execution failed"

// maxLoggedValueLen caps free-form values (prompts, tool results) in log
// records.
const maxLoggedValueLen = 256

// sanitizeError maps an internal error to a client-visible code and message.
//
// Only two error kinds pass their text through: unknown workflow ids and
// payload validation failures. Both are raised locally from client input and
// carry nothing internal.
func sanitizeError(err error) (code int, msg string) {
	switch {
	case errors.Is(err, workflows.ErrUnknownWorkflow),
		errors.Is(err, datatypes.ErrInvalidPayload):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, genericStreamError
	}
}

// truncateForLog shortens free-form values before they land in a log record.
func truncateForLog(s string) string {
	if len(s) <= maxLoggedValueLen {
		return s
	}
	return s[:maxLoggedValueLen] + "...(truncated)"
}
