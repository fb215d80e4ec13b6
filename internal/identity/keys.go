// Package identity generates the node's static WireGuard keypair and
// converts it to and from base64. It does not persist anything itself;
// the encoded keys are stored in localstate.LocalConfig.
package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// Keypair holds a Curve25519 keypair used as the node's WireGuard identity.
type Keypair struct {
	PrivateKey []byte // 32 bytes, never logged
	PublicKey  []byte // 32 bytes
}

// GenerateKeypair generates a new Curve25519 keypair, clamped per RFC 7748.
func GenerateKeypair() (*Keypair, error) {
	privateKey := make([]byte, 32)
	if _, err := rand.Read(privateKey); err != nil {
		return nil, fmt.Errorf("identity: generate keypair: %w", err)
	}

	privateKey[0] &^= 0x07
	privateKey[31] &^= 0x80
	privateKey[31] |= 0x40

	publicKey, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("identity: derive public key: %w", err)
	}

	return &Keypair{PrivateKey: privateKey, PublicKey: publicKey}, nil
}

// EncodePrivateKey returns the standard base64 encoding of the private key.
func (k *Keypair) EncodePrivateKey() string {
	return base64.StdEncoding.EncodeToString(k.PrivateKey)
}

// EncodePublicKey returns the standard base64 encoding of the public key.
func (k *Keypair) EncodePublicKey() string {
	return base64.StdEncoding.EncodeToString(k.PublicKey)
}

// DecodeKeypair reconstructs a Keypair from base64-encoded private and
// public keys, as persisted on disk.
func DecodeKeypair(privB64, pubB64 string) (*Keypair, error) {
	priv, err := base64.StdEncoding.DecodeString(privB64)
	if err != nil {
		return nil, fmt.Errorf("identity: decode private key: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		return nil, fmt.Errorf("identity: decode public key: %w", err)
	}
	return &Keypair{PrivateKey: priv, PublicKey: pub}, nil
}
