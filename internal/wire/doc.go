// Package wire implements the line-oriented framing codec: one UTF-8 JSON
// packet per newline-terminated line over a bidirectional byte stream.
package wire
