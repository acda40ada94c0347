package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"

	"beatrice/internal/domain"
)

// KeyBits is the RSA modulus size for generated identities.
const KeyBits = 2048

const pemPublicPrefix = "-----BEGIN PUBLIC KEY-----"

// NewIdentity generates a fresh 2048-bit RSA keypair with the public key
// exported as PEM for transmission.
func NewIdentity() (domain.Identity, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	pemKey, err := EncodePublicPEM(&priv.PublicKey)
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{Private: priv, PublicPEM: pemKey}, nil
}

// EncodePublicPEM exports pub as a PEM SubjectPublicKeyInfo block.
func EncodePublicPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("crypto: encode public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// HasPEMPrefix is the cheap first-pass check applied to handshake keys
// before the full parse.
func HasPEMPrefix(s string) bool {
	return strings.HasPrefix(s, pemPublicPrefix)
}

// ParsePublicPEM parses a PEM SubjectPublicKeyInfo block into an RSA public
// key. Anything else fails with domain.ErrInvalidPublicKey.
func ParsePublicPEM(s string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, domain.ErrInvalidPublicKey
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPublicKey, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", domain.ErrInvalidPublicKey)
	}
	return pub, nil
}

// Fingerprint hashes the PEM-encoded public key bytes with SHA-256 and
// renders two 4-hex-character groups, e.g. "a1b2:c3d4". Display only, never
// a trust decision.
func Fingerprint(pemKey string) string {
	sum := sha256.Sum256([]byte(pemKey))
	return hex.EncodeToString(sum[:2]) + ":" + hex.EncodeToString(sum[2:4])
}
