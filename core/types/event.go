package types

// Event is a structured notification describing a state change. Attributes
// are string encoded so downstream consumers can persist or forward them
// without knowing module internals.
type Event struct {
	Type       string
	Attributes map[string]string
}
