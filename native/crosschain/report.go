package crosschain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// DebtUpdate is one remote network's debt figures as observed by the reporter.
// Version must increase for every new observation of the same network.
type DebtUpdate struct {
	NetworkID  uint64
	IssuedDebt *big.Int
	ActiveDebt *big.Int
	Version    uint64
}

// Report is an idempotent "set all" update covering several networks.
type Report struct {
	ID      string
	Updates []DebtUpdate
}

// NewReport assigns a fresh report identifier to the supplied updates.
func NewReport(updates ...DebtUpdate) Report {
	return Report{ID: uuid.NewString(), Updates: updates}
}

// Validate checks the report is well formed.
func (r Report) Validate() error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if len(r.Updates) == 0 {
		return fmt.Errorf("%w: no updates", ErrInvalidReport)
	}
	seen := make(map[uint64]struct{}, len(r.Updates))
	for _, update := range r.Updates {
		if err := update.validate(); err != nil {
			return err
		}
		if _, dup := seen[update.NetworkID]; dup {
			return fmt.Errorf("%w: duplicate network %d", ErrInvalidReport, update.NetworkID)
		}
		seen[update.NetworkID] = struct{}{}
	}
	return nil
}

func (u DebtUpdate) validate() error {
	if u.NetworkID == 0 {
		return fmt.Errorf("%w: network id must be set", ErrInvalidReport)
	}
	if u.Version == 0 {
		return fmt.Errorf("%w: version must be positive", ErrInvalidReport)
	}
	if u.IssuedDebt == nil || u.IssuedDebt.Sign() < 0 || u.ActiveDebt == nil || u.ActiveDebt.Sign() < 0 {
		return fmt.Errorf("%w: debt figures must be non-negative", ErrInvalidReport)
	}
	return nil
}

// Digest is the blake3 hash of the canonical encoding: the report id followed
// by the updates sorted by network id.
func (r Report) Digest() [32]byte {
	updates := append([]DebtUpdate(nil), r.Updates...)
	sort.Slice(updates, func(i, j int) bool { return updates[i].NetworkID < updates[j].NetworkID })

	buf := bytes.NewBuffer(nil)
	writeDelimited(buf, []byte(r.ID))
	_ = binary.Write(buf, binary.BigEndian, uint32(len(updates)))
	for _, update := range updates {
		_ = binary.Write(buf, binary.BigEndian, update.NetworkID)
		_ = binary.Write(buf, binary.BigEndian, update.Version)
		writeDelimited(buf, bigBytes(update.IssuedDebt))
		writeDelimited(buf, bigBytes(update.ActiveDebt))
	}
	return blake3.Sum256(buf.Bytes())
}

func bigBytes(v *big.Int) []byte {
	if v == nil {
		return nil
	}
	return v.Bytes()
}

func writeDelimited(buf *bytes.Buffer, data []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
}
