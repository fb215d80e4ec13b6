package registry

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// peersPrefix returns the key prefix under which all peer records for a
// mesh live, e.g. "wiresmith/peers/".
func peersPrefix(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/peers/"
}

// peerKey returns the full KV key for a peer's public key, URL-safe
// base64 encoded per spec.
func peerKey(prefix, publicKeyB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return "", fmt.Errorf("registry: decode public key: %w", err)
	}
	return peersPrefix(prefix) + base64.RawURLEncoding.EncodeToString(raw), nil
}

// publicKeyFromKey recovers the standard-base64 public key from a KV key
// produced by peerKey.
func publicKeyFromKey(prefix, key string) (string, error) {
	p := peersPrefix(prefix)
	if !strings.HasPrefix(key, p) {
		return "", fmt.Errorf("registry: key %q is not under prefix %q", key, p)
	}
	encoded := strings.TrimPrefix(key, p)
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("registry: decode key suffix %q: %w", encoded, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
