// Package client implements the protocol driver that mirrors the server's
// state machine from the client side: handshake, directory ingestion,
// hybrid encrypt/decrypt of messages, and ordered event delivery to a UI.
package client
