package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// hashHexPrefix is prepended to every content hash this service produces.
const hashHexPrefix = "0x"

// CanonicalBytes serializes v into its RFC 8785 canonical JSON form:
// lexicographically sorted keys, no insignificant whitespace, stable
// number and string representation. Two structurally equal values yield
// byte-identical output regardless of field insertion order.
//
// Amounts of 64 bits or more must already be decimal strings when they
// reach this function; native floats would not survive re-serialization
// across implementations. Non-finite numbers and cyclic structures are
// rejected by encoding/json before canonicalization.
func CanonicalBytes(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, ValidationErrorf("value cannot be canonically encoded: %v", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, ValidationErrorf("canonical transform failed: %v", err)
	}
	return canonical, nil
}

// CanonicalHash returns the sha256 of the canonical encoding of v as
// lowercase hex with a 0x prefix. A failed encoding fails the call;
// there is no silent coercion, since every downstream invariant (token
// binding, audit correlation) depends on this hash.
func CanonicalHash(v any) (string, error) {
	canonical, err := CanonicalBytes(v)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canonical)
	return hashHexPrefix + hex.EncodeToString(sum[:]), nil
}
