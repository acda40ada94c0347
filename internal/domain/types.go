package domain

import (
	"crypto/rsa"
	"regexp"
)

// Packet tags. Every line on the wire is exactly one JSON-encoded Packet
// whose Tag field carries one of these.
const (
	TagHandshake = "H"
	TagError     = "ERR"
	TagDirectory = "DIR"
	TagJoin      = "J"
	TagLeave     = "L"
	TagMessage   = "M"
)

// Broadcast is the literal recipient value that addresses every connected
// peer instead of a single nickname.
const Broadcast = "ALL"

// PeerInfo is one entry of a directory snapshot: a nickname and the peer's
// PEM-encoded RSA public key.
type PeerInfo struct {
	Nickname string `json:"n"`
	Key      string `json:"k"`
}

// Packet is the tagged union exchanged between client and server. The Key
// field is context dependent: a PEM public key in H and J packets, a base64
// RSA-wrapped AES key in M packets.
//
// The server stamps Sender on every M packet it relays; a client-supplied
// value is never trusted.
type Packet struct {
	Tag       string     `json:"t"`
	Nickname  string     `json:"n,omitempty"`
	Key       string     `json:"k,omitempty"`
	Reason    string     `json:"c,omitempty"`
	Peers     []PeerInfo `json:"p,omitempty"`
	Recipient string     `json:"r,omitempty"`
	Nonce     string     `json:"iv,omitempty"`
	Cipher    string     `json:"m,omitempty"`
	Sender    string     `json:"s,omitempty"`
}

// MessagePayload is the plaintext carried inside an M packet, serialized to
// JSON before encryption.
type MessagePayload struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// Identity is the local long-term RSA keypair. The private key never leaves
// the process except through the encrypted identity store; PublicPEM is the
// SubjectPublicKeyInfo export sent during the handshake.
type Identity struct {
	Private   *rsa.PrivateKey
	PublicPEM string
}

// EventKind discriminates events delivered to the UI.
type EventKind string

const (
	EventMessage      EventKind = "message"
	EventJoin         EventKind = "join"
	EventLeave        EventKind = "leave"
	EventError        EventKind = "error"
	EventMyMessage    EventKind = "my_message"
	EventSelfMessage  EventKind = "self_message_error"
	EventUserNotFound EventKind = "user_not_found_error"
)

// Event is what the protocol driver publishes on its event channel. Message
// is set for EventMessage and EventMyMessage; Text for everything else.
type Event struct {
	Kind    EventKind
	Text    string
	Message *MessagePayload
}

var nicknameRegexp = regexp.MustCompile(`^[A-Za-z0-9]{3,20}$`)

// ValidNickname reports whether a client-chosen nickname is acceptable:
// 3 to 20 alphanumeric characters. Server-assigned collision suffixes
// ("alice#417") are exempt; only the requested name is validated.
func ValidNickname(n string) bool {
	return nicknameRegexp.MatchString(n)
}
