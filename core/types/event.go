package types

// Event is the wire representation of an audit record emitted by the core.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
