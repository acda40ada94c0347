package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"beatrice/internal/domain"
	"beatrice/internal/util/memzero"
)

const aesKeyBytes = 32

// Sealed is one recipient's copy of an encrypted message: the shared
// ciphertext and nonce plus the AES key wrapped for that recipient alone.
type Sealed struct {
	Recipient  string
	WrappedKey string // base64 RSA-OAEP(SHA-256) wrapped AES key
	Nonce      string // base64 96-bit GCM nonce
	Cipher     string // base64 AES-256-GCM ciphertext
}

// Seal encrypts payload once under a fresh AES-256 key and 96-bit nonce,
// then wraps that key with RSA-OAEP(SHA-256) for each recipient. The key and
// nonce live for this one message only; OAEP wrapping is recipient specific,
// so there is one Sealed copy per recipient.
func Seal(payload domain.MessagePayload, recipients map[string]*rsa.PublicKey) ([]Sealed, error) {
	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal payload: %w", err)
	}

	key := make([]byte, aesKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: generate message key: %w", err)
	}
	defer memzero.Zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	ct := gcm.Seal(nil, nonce, plain, nil)
	nonceB64 := base64.StdEncoding.EncodeToString(nonce)
	cipherB64 := base64.StdEncoding.EncodeToString(ct)

	out := make([]Sealed, 0, len(recipients))
	for nick, pub := range recipients {
		wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
		if err != nil {
			return nil, fmt.Errorf("crypto: wrap key for %q: %w", nick, err)
		}
		out = append(out, Sealed{
			Recipient:  nick,
			WrappedKey: base64.StdEncoding.EncodeToString(wrapped),
			Nonce:      nonceB64,
			Cipher:     cipherB64,
		})
	}
	return out, nil
}

// Open unwraps the AES key with the local private key and decrypts the
// ciphertext. Every failure mode, from bad base64 to a GCM tag mismatch,
// collapses into domain.ErrDecryptFailed; partial plaintext is never
// returned.
func Open(priv *rsa.PrivateKey, wrappedB64, nonceB64, cipherB64 string) (domain.MessagePayload, error) {
	fail := func(err error) (domain.MessagePayload, error) {
		return domain.MessagePayload{}, fmt.Errorf("%w: %v", domain.ErrDecryptFailed, err)
	}

	wrapped, err := base64.StdEncoding.DecodeString(wrappedB64)
	if err != nil {
		return fail(err)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return fail(err)
	}
	ct, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return fail(err)
	}

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return fail(err)
	}
	defer memzero.Zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fail(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fail(err)
	}
	if len(nonce) != gcm.NonceSize() {
		return fail(fmt.Errorf("bad nonce length %d", len(nonce)))
	}
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return fail(err)
	}

	var payload domain.MessagePayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return fail(err)
	}
	return payload, nil
}
