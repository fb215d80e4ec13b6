package identity

import "testing"

func TestGenerateKeypairProducesClampedKey(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if len(kp.PrivateKey) != 32 || len(kp.PublicKey) != 32 {
		t.Fatalf("unexpected key lengths: priv=%d pub=%d", len(kp.PrivateKey), len(kp.PublicKey))
	}
	if kp.PrivateKey[0]&0x07 != 0 {
		t.Fatalf("private key low bits not cleared")
	}
	if kp.PrivateKey[31]&0x80 != 0 {
		t.Fatalf("private key high bit not cleared")
	}
	if kp.PrivateKey[31]&0x40 == 0 {
		t.Fatalf("private key bit 6 not set")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	decoded, err := DecodeKeypair(kp.EncodePrivateKey(), kp.EncodePublicKey())
	if err != nil {
		t.Fatalf("DecodeKeypair: %v", err)
	}

	if string(decoded.PrivateKey) != string(kp.PrivateKey) {
		t.Fatalf("private key mismatch after round trip")
	}
	if string(decoded.PublicKey) != string(kp.PublicKey) {
		t.Fatalf("public key mismatch after round trip")
	}
}

func TestGenerateKeypairProducesDistinctKeys(t *testing.T) {
	a, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	b, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if a.EncodePrivateKey() == b.EncodePrivateKey() {
		t.Fatalf("expected distinct private keys across calls")
	}
}
