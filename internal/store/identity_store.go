package store

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"beatrice/internal/crypto"
	"beatrice/internal/domain"
	"beatrice/internal/util/memzero"
)

const (
	identityFile = "identity.enc"

	saltBytes = 16
	kekBytes  = chacha20poly1305.KeySize
)

// envelope is the at-rest format: Argon2id KEK over the passphrase, then
// ChaCha20-Poly1305 over the PKCS#1 private key bytes, with the salt bound
// as associated data.
type envelope struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	CT    []byte `json:"ct"`
}

// FileStore persists the local identity under a home directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore returns a store rooted at dir; the directory is created on
// first save.
func NewFileStore(dir string) *FileStore { return &FileStore{dir: dir} }

func deriveKEK(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1<<16, 8, 1, kekBytes)
}

// SaveIdentity encrypts and writes the identity, mode 0600.
func (s *FileStore) SaveIdentity(passphrase string, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := x509.MarshalPKCS1PrivateKey(id.Private)
	defer memzero.Zero(raw)

	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	kek := deriveKEK(passphrase, salt)
	defer memzero.Zero(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	ct := aead.Seal(nil, nonce, raw, salt)

	blob, err := json.Marshal(envelope{Salt: salt, Nonce: nonce, CT: ct})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, identityFile), blob, 0o600)
}

// LoadIdentity reads the identity back. ok is false when no identity has
// been stored; a wrong passphrase or a tampered file is an error.
func (s *FileStore) LoadIdentity(passphrase string) (domain.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := os.ReadFile(filepath.Join(s.dir, identityFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Identity{}, false, nil
		}
		return domain.Identity{}, false, err
	}

	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return domain.Identity{}, false, fmt.Errorf("store: corrupt identity file: %w", err)
	}
	kek := deriveKEK(passphrase, env.Salt)
	defer memzero.Zero(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return domain.Identity{}, false, err
	}
	raw, err := aead.Open(nil, env.Nonce, env.CT, env.Salt)
	if err != nil {
		return domain.Identity{}, false, fmt.Errorf("store: open identity: %w", err)
	}
	defer memzero.Zero(raw)

	priv, err := x509.ParsePKCS1PrivateKey(raw)
	if err != nil {
		return domain.Identity{}, false, fmt.Errorf("store: parse identity: %w", err)
	}
	pemKey, err := crypto.EncodePublicPEM(&priv.PublicKey)
	if err != nil {
		return domain.Identity{}, false, err
	}
	return domain.Identity{Private: priv, PublicPEM: pemKey}, true, nil
}

// Compile-time assertion that FileStore implements domain.IdentityStore.
var _ domain.IdentityStore = (*FileStore)(nil)
