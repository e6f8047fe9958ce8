package crosschain

import (
	"encoding/hex"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"pynthchain/core/events"
	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

var (
	ErrInvalidReport    = errors.New("crosschain: invalid report")
	ErrReportConflict   = errors.New("crosschain: report id reused with different contents")
	ErrSelfNetwork      = errors.New("crosschain: updates for the local network are derived, not reported")
	ErrInvalidAmount    = errors.New("crosschain: amount must be positive")
	ErrUnknownNetwork   = errors.New("crosschain: unknown network")
	maxRememberedReport = 1024
)

// NetworkDebt is the latest accepted snapshot of a remote network.
type NetworkDebt struct {
	NetworkID  uint64
	IssuedDebt *big.Int
	ActiveDebt *big.Int
	Version    uint64
	ReportID   string
	UpdatedAt  time.Time
}

func (n NetworkDebt) Clone() NetworkDebt {
	out := n
	out.IssuedDebt = nativecommon.Copy(n.IssuedDebt)
	out.ActiveDebt = nativecommon.Copy(n.ActiveDebt)
	return out
}

// ReportResult summarises an applied report.
type ReportResult struct {
	ReportID  string
	Digest    string
	Applied   int
	Skipped   int
	Duplicate bool
}

// Manager tracks the debt issued by the local network and the versioned debt
// snapshots of every remote network.
type Manager struct {
	mu            sync.RWMutex
	selfNetworkID uint64
	issuer        crypto.Address
	reporter      crypto.Address
	selfIssued    *big.Int
	networks      map[uint64]*NetworkDebt
	applied       map[string][32]byte
	appliedOrder  []string
	emitter       events.Emitter
	nowFn         func() time.Time
}

// New constructs a manager for the local network id. issuer is the only
// address allowed to move the local issued debt; reporter is the only address
// allowed to submit remote figures.
func New(selfNetworkID uint64, issuer, reporter crypto.Address) *Manager {
	return &Manager{
		selfNetworkID: selfNetworkID,
		issuer:        issuer,
		reporter:      reporter,
		selfIssued:    new(big.Int),
		networks:      make(map[uint64]*NetworkDebt),
		applied:       make(map[string][32]byte),
		emitter:       events.NoopEmitter{},
		nowFn:         time.Now,
	}
}

func (m *Manager) SetEmitter(emitter events.Emitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

func (m *Manager) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	m.mu.Lock()
	m.nowFn = now
	m.mu.Unlock()
}

func (m *Manager) SelfNetworkID() uint64 { return m.selfNetworkID }

// AddIssuedDebt records pUSD newly issued on the local network.
func (m *Manager) AddIssuedDebt(caller crypto.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, m.issuer); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	m.selfIssued = nativecommon.Add(m.selfIssued, amount)
	return nil
}

// SubtractIssuedDebt records pUSD burned on the local network. The figure is
// floored at zero.
func (m *Manager) SubtractIssuedDebt(caller crypto.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, m.issuer); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	m.selfIssued = nativecommon.SubFloor(m.selfIssued, amount)
	return nil
}

func (m *Manager) SelfIssuedDebt() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return nativecommon.Copy(m.selfIssued)
}

// SetCrossNetworkDebt applies a single remote update. Updates whose version is
// not newer than the stored one are ignored and reported as not applied.
func (m *Manager) SetCrossNetworkDebt(caller crypto.Address, update DebtUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, m.reporter); err != nil {
		return false, err
	}
	if err := update.validate(); err != nil {
		return false, err
	}
	if update.NetworkID == m.selfNetworkID {
		return false, ErrSelfNetwork
	}
	return m.applyLocked(update, ""), nil
}

func (m *Manager) applyLocked(update DebtUpdate, reportID string) bool {
	current, ok := m.networks[update.NetworkID]
	if ok && update.Version <= current.Version {
		return false
	}
	next := &NetworkDebt{
		NetworkID:  update.NetworkID,
		IssuedDebt: nativecommon.Copy(update.IssuedDebt),
		ActiveDebt: nativecommon.Copy(update.ActiveDebt),
		Version:    update.Version,
		ReportID:   reportID,
		UpdatedAt:  m.nowFn().UTC(),
	}
	m.networks[update.NetworkID] = next
	m.emitter.Emit(events.CrossNetworkDebtUpdated{
		NetworkID:  next.NetworkID,
		IssuedDebt: nativecommon.Copy(next.IssuedDebt),
		ActiveDebt: nativecommon.Copy(next.ActiveDebt),
		Version:    next.Version,
		ReportID:   reportID,
	})
	return true
}

// ApplyReport applies every update of a report whose version is newer than
// the stored snapshot. Replaying a report is a no-op; reusing its id with
// different contents is rejected. The report is validated as a whole before
// any update applies.
func (m *Manager) ApplyReport(caller crypto.Address, report Report) (ReportResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, m.reporter); err != nil {
		return ReportResult{}, err
	}
	if err := report.Validate(); err != nil {
		return ReportResult{}, err
	}
	for _, update := range report.Updates {
		if update.NetworkID == m.selfNetworkID {
			return ReportResult{}, ErrSelfNetwork
		}
	}
	digest := report.Digest()
	result := ReportResult{ReportID: report.ID, Digest: hex.EncodeToString(digest[:])}
	if seen, ok := m.applied[report.ID]; ok {
		if seen != digest {
			return ReportResult{}, ErrReportConflict
		}
		result.Duplicate = true
		result.Skipped = len(report.Updates)
		return result, nil
	}
	for _, update := range report.Updates {
		if m.applyLocked(update, report.ID) {
			result.Applied++
		} else {
			result.Skipped++
		}
	}
	m.rememberLocked(report.ID, digest)
	m.emitter.Emit(events.CrossReportApplied{ReportID: report.ID, Digest: result.Digest, Applied: result.Applied, Skipped: result.Skipped})
	return result, nil
}

func (m *Manager) rememberLocked(id string, digest [32]byte) {
	m.applied[id] = digest
	m.appliedOrder = append(m.appliedOrder, id)
	for len(m.appliedOrder) > maxRememberedReport {
		delete(m.applied, m.appliedOrder[0])
		m.appliedOrder = m.appliedOrder[1:]
	}
}

// RemoveNetwork drops a remote network from the aggregate.
func (m *Manager) RemoveNetwork(caller crypto.Address, networkID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, m.reporter); err != nil {
		return err
	}
	if _, ok := m.networks[networkID]; !ok {
		return ErrUnknownNetwork
	}
	delete(m.networks, networkID)
	return nil
}

func (m *Manager) Network(networkID uint64) (NetworkDebt, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.networks[networkID]
	if !ok {
		return NetworkDebt{}, false
	}
	return n.Clone(), true
}

// Networks returns the remote snapshots sorted by network id.
func (m *Manager) Networks() []NetworkDebt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]NetworkDebt, 0, len(m.networks))
	for _, n := range m.networks {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NetworkID < out[j].NetworkID })
	return out
}

// TotalIssuedDebt sums the local and remote issued debt.
func (m *Manager) TotalIssuedDebt() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := nativecommon.Copy(m.selfIssued)
	for _, n := range m.networks {
		total.Add(total, nativecommon.Copy(n.IssuedDebt))
	}
	return total
}

// TotalActiveDebt sums the supplied local active debt with the remote figures.
func (m *Manager) TotalActiveDebt(selfActive *big.Int) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalActiveLocked(selfActive)
}

func (m *Manager) totalActiveLocked(selfActive *big.Int) *big.Int {
	total := nativecommon.Copy(selfActive)
	for _, n := range m.networks {
		total.Add(total, nativecommon.Copy(n.ActiveDebt))
	}
	return total
}

// CurrentNetworkDebtPercentage returns the local share of the system's active
// debt at unit scale. An empty system reports the full unit.
func (m *Manager) CurrentNetworkDebtPercentage(selfActive *big.Int) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := m.totalActiveLocked(selfActive)
	if total.Sign() == 0 {
		return nativecommon.Copy(nativecommon.Unit)
	}
	return nativecommon.DivDecimal(selfActive, total)
}

// AdaptedTotalDebt allocates the system's active debt to the local network in
// proportion to the debt it issued. Without remote networks it is the local
// active debt.
func (m *Manager) AdaptedTotalDebt(selfActive *big.Int) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.networks) == 0 {
		return nativecommon.Copy(selfActive)
	}
	totalIssued := nativecommon.Copy(m.selfIssued)
	for _, n := range m.networks {
		totalIssued.Add(totalIssued, nativecommon.Copy(n.IssuedDebt))
	}
	if totalIssued.Sign() == 0 {
		return nativecommon.Copy(selfActive)
	}
	adapted := new(big.Int).Mul(m.totalActiveLocked(selfActive), m.selfIssued)
	return adapted.Quo(adapted, totalIssued)
}
