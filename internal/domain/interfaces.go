package domain

// IdentityStore persists the local RSA identity encrypted at rest.
type IdentityStore interface {
	// SaveIdentity encrypts and writes the identity under the passphrase.
	SaveIdentity(passphrase string, id Identity) error

	// LoadIdentity reads the identity back. ok is false when no identity
	// has been stored yet; a wrong passphrase is an error.
	LoadIdentity(passphrase string) (id Identity, ok bool, err error)
}
