// Package commands wires the beatrice CLI: identity management (init,
// fingerprint) and the interactive chat front-end over the protocol
// driver.
package commands
