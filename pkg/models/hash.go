package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ZeroAnchor stands in for an absent BTC anchor in every chain-hash
// computation. It is never omitted from hashing.
const ZeroAnchor = "0000000000000000000000000000000000000000000000000000000000000000"

// GenesisHash is the default chain starting point for audit logs.
const GenesisHash = ZeroAnchor

// HashText returns the lowercase hex SHA-256 of the input.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the lowercase hex SHA-256 of the input bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ChainHash hashes the raw byte concatenation of its parts in order.
// Chain links are built from hex strings, so the concatenation is
// byte-for-byte reproducible on any platform.
func ChainHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AnchorHash returns the anchor's hash or the zero placeholder.
func AnchorHash(a *BTCAnchor) string {
	if a == nil || strings.TrimSpace(a.Hash) == "" {
		return ZeroAnchor
	}
	return a.Hash
}
