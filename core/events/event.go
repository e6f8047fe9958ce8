package events

import (
	"math/big"
	"strconv"
	"sync"
	"time"

	"pynthchain/core/types"
	"pynthchain/crypto"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Convertible events render themselves into a broadcastable attribute map.
type Convertible interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the HTTP journal,
// metrics).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events emitted during an operation so they can be released
// only once the operation commits.
type Buffer struct {
	mu      sync.Mutex
	pending []Event
}

func (b *Buffer) Emit(ev Event) {
	if b == nil || ev == nil {
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, ev)
	b.mu.Unlock()
}

// Drain returns and clears the buffered events.
func (b *Buffer) Drain() []Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

// Discard drops buffered events.
func (b *Buffer) Discard() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}

// Fanout forwards every event to each configured emitter.
type Fanout []Emitter

func (f Fanout) Emit(ev Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(ev)
		}
	}
}

// ToTypes converts an event into its attribute representation. Events that do
// not implement Convertible only carry their type.
func ToTypes(ev Event) *types.Event {
	if ev == nil {
		return nil
	}
	if conv, ok := ev.(Convertible); ok {
		return conv.Event()
	}
	return &types.Event{Type: ev.EventType(), Attributes: map[string]string{}}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddress(addr crypto.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.String()
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func formatUnix(ts time.Time) string {
	if ts.IsZero() {
		return "0"
	}
	return strconv.FormatInt(ts.UTC().Unix(), 10)
}
