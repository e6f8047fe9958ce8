package types

// Event represents a typed event emitted during ledger state transitions.
// Sequence and Timestamp are assigned by the node when the event commits.
type Event struct {
	Sequence   uint64            `json:"sequence"`
	Timestamp  int64             `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	out.Attributes = make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		out.Attributes[k] = v
	}
	return &out
}
