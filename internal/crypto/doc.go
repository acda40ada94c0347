// Package crypto exposes the primitives Beatrice builds on.
//
// Contents
//
//   - RSA identity generation and PEM export/parse (NewIdentity,
//     EncodePublicPEM, ParsePublicPEM)
//   - Hybrid per-message encryption: a fresh AES-256-GCM key wrapped with
//     RSA-OAEP(SHA-256) per recipient (Seal, Open)
//   - Short public-key fingerprints for display (Fingerprint)
//
// Callers should treat unwrapped key material as sensitive; Seal and Open
// wipe the symmetric key before returning.
package crypto
