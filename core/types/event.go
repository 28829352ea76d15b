package types

// Event represents a typed event emitted during state transitions. Attribute
// values are plaintext identifiers only; encrypted quantities never appear in
// an event.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

