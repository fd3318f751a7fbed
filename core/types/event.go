package types

// Event is the canonical record emitted on every state-mutating success path.
// Attributes hold string-encoded fields consumed by off-band indexers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
