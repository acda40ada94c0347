// Package server implements the beatriced broker: the shared peer
// directory and the per-connection state machine that takes a session
// through handshake, directory synchronization, message relay and cleanup.
package server
