package route

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ComputeRouteID computes the deterministic route identifier.
// Formula: SHA256(lower(wallet)|window_start|window_end), hex encoded.
func ComputeRouteID(wallet string, w Window) string {
	data := fmt.Sprintf("%s|%d|%d",
		strings.ToLower(strings.TrimSpace(wallet)),
		w.Start,
		w.End,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// NormalizeAddress returns the comparison form of an address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}
