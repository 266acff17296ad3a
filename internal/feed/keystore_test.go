package feed

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
)

// generateTestKey creates an RSA key pair and returns the PEM-encoded
// private key.
func generateTestKey(t *testing.T) ([]byte, *rsa.PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return pemBytes, &priv.PublicKey
}

func TestKeystore_AuthHeaders(t *testing.T) {
	pemKey, pub := generateTestKey(t)

	ks, err := NewKeystore(pemKey)
	if err != nil {
		t.Fatalf("NewKeystore: %v", err)
	}

	headers, err := ks.AuthHeaders("test-api-key")
	if err != nil {
		t.Fatalf("AuthHeaders: %v", err)
	}

	if headers.Get("KALSHI-ACCESS-KEY") != "test-api-key" {
		t.Fatalf("expected API key 'test-api-key', got %q", headers.Get("KALSHI-ACCESS-KEY"))
	}
	ts := headers.Get("KALSHI-ACCESS-TIMESTAMP")
	if ts == "" {
		t.Fatal("missing KALSHI-ACCESS-TIMESTAMP")
	}

	sig, err := base64.StdEncoding.DecodeString(headers.Get("KALSHI-ACCESS-SIGNATURE"))
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}

	h := sha256.Sum256([]byte(ts + "GET" + wsPath))
	err = rsa.VerifyPSS(pub, crypto.SHA256, h[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
}

func TestKeystore_ReusableAcrossSigns(t *testing.T) {
	pemKey, _ := generateTestKey(t)

	ks, err := NewKeystore(pemKey)
	if err != nil {
		t.Fatalf("NewKeystore: %v", err)
	}

	// The enclave must survive repeated opens.
	for i := 0; i < 3; i++ {
		if _, err := ks.AuthHeaders("k"); err != nil {
			t.Fatalf("AuthHeaders call %d: %v", i+1, err)
		}
	}
}

func TestNewKeystore_RejectsGarbage(t *testing.T) {
	if _, err := NewKeystore([]byte("not a pem block")); err == nil {
		t.Fatal("expected error for invalid PEM")
	}
}
