package feed

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/awnumar/memguard"
)

// wsPath is the upstream WebSocket path; it is part of the signed auth
// payload, so it must match the dialed URL exactly.
const wsPath = "/trade-api/ws/v2"

// Keystore holds the feed API private key sealed in a memguard enclave.
// The key is encrypted at rest and only opened momentarily while signing
// an upgrade request.
type Keystore struct {
	enclave *memguard.Enclave
}

// NewKeystore validates and seals a PEM-encoded PKCS#8 RSA private key.
// The caller should zero its copy of pemBytes afterwards.
func NewKeystore(pemBytes []byte) (*Keystore, error) {
	if _, err := parseRSAKey(pemBytes); err != nil {
		return nil, err
	}
	return &Keystore{enclave: memguard.NewEnclave(pemBytes)}, nil
}

// LoadKeystore reads and seals the key at path.
func LoadKeystore(path string) (*Keystore, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("feed: read key: %w", err)
	}
	return NewKeystore(pemBytes)
}

// AuthHeaders computes the RSA-PSS authentication headers for a WebSocket
// upgrade request: a signature over timestamp + method + path. The enclave
// is opened only for the duration of the signing operation.
func (k *Keystore) AuthHeaders(apiKey string) (http.Header, error) {
	buf, err := k.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("feed: open keystore: %w", err)
	}
	defer buf.Destroy()

	key, err := parseRSAKey(buf.Bytes())
	if err != nil {
		return nil, err
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	msg := ts + "GET" + wsPath

	h := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, h[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return nil, fmt.Errorf("feed: sign: %w", err)
	}

	headers := http.Header{}
	headers.Set("KALSHI-ACCESS-KEY", apiKey)
	headers.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	headers.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(sig))

	return headers, nil
}

func parseRSAKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("feed: failed to decode PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("feed: parse private key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("feed: key is not RSA")
	}
	return rsaKey, nil
}
