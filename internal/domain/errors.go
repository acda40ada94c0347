package domain

import "errors"

// Protocol error taxonomy. Per-packet errors (ErrMalformedPacket,
// ErrDecryptFailed) are recovered locally by skipping the packet;
// per-connection errors terminate only the session they occurred on.
var (
	// ErrPeerDisconnected is returned by the codec when the stream is at EOF.
	ErrPeerDisconnected = errors.New("peer disconnected")

	// ErrMalformedPacket marks a line that is not a valid JSON packet.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrInvalidPublicKey marks a key that is not a well-formed PEM-encoded
	// RSA SubjectPublicKeyInfo block.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrHandshakeTimeout means no handshake packet arrived in time.
	ErrHandshakeTimeout = errors.New("handshake timed out")

	// ErrInvalidNickname marks a handshake nickname outside the allowed form.
	ErrInvalidNickname = errors.New("invalid nickname")

	// ErrDecryptFailed covers OAEP unwrap failures, GCM tag mismatches and
	// malformed ciphertext. Such a packet is dropped, never surfaced.
	ErrDecryptFailed = errors.New("decryption failed")

	// ErrUnknownRecipient means a direct message named a nickname that is
	// not currently registered.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrRegistrationFailed means the nickname collision suffix space was
	// exhausted; fatal for that connection attempt only.
	ErrRegistrationFailed = errors.New("nickname registration failed")
)
