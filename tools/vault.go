// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools builds the per-request tool runtime for workflows.
//
// This file implements the request-scoped secret vault. Secrets arrive in the
// request body, are sealed into memguard enclaves immediately after binding,
// and are only opened for the instant a credential header is written. Vault
// contents never appear in logs or frames.
package tools

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// Vault holds request-scoped secrets in encrypted enclaves.
//
// # Thread Safety
//
// Read-only after construction; safe for concurrent Use calls.
type Vault struct {
	secrets map[string]*memguard.Enclave
}

// NewVault seals the given secrets. The input map should be discarded by the
// caller afterwards; Go strings cannot be wiped, so the enclave copy is the
// authoritative one.
func NewVault(secrets map[string]string) *Vault {
	v := &Vault{secrets: make(map[string]*memguard.Enclave, len(secrets))}
	for key, val := range secrets {
		v.secrets[key] = memguard.NewEnclave([]byte(val))
	}
	return v
}

// Has reports whether a secret exists under key.
func (v *Vault) Has(key string) bool {
	_, ok := v.secrets[key]
	return ok
}

// Use opens the secret under key and passes it to fn. The plaintext buffer is
// destroyed as soon as fn returns; fn must not retain the string beyond the
// call.
func (v *Vault) Use(key string, fn func(secret string) error) error {
	enclave, ok := v.secrets[key]
	if !ok {
		return fmt.Errorf("vault: no secret under key %q", key)
	}
	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("vault: opening secret %q: %w", key, err)
	}
	defer buf.Destroy()
	return fn(buf.String())
}
