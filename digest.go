// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// fileDigest returns the hex blake2b-256 digest of a file's
// (compressed) content, recorded as provenance for inputs and
// annotation snapshots.
func fileDigest(ctx context.Context, fnm string) (string, error) {
	f, err := open(ctx, fnm, nil)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%s: %w", fnm, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
