// Package domain defines the wire packet model, events, and error taxonomy
// shared across the app. It contains plain types and contracts only.
package domain
