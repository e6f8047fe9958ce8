package common

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// System status sections checked by mutating entry points.
const (
	SectionSystem     = "System"
	SectionIssuance   = "Issuance"
	SectionExchange   = "Exchange"
	SectionCollateral = "Collateral"
)

var (
	ErrSystemSuspended   = errors.New("system suspended")
	ErrIssuanceSuspended = errors.New("issuance suspended")
	ErrSectionSuspended  = errors.New("section suspended")
)

// StatusView reports whether a system section is suspended.
type StatusView interface {
	IsSuspended(section string) bool
}

// Guard rejects the call when the System section or any of the supplied
// sections is suspended. A nil view never blocks.
func Guard(s StatusView, sections ...string) error {
	if s == nil {
		return nil
	}
	if s.IsSuspended(SectionSystem) {
		return ErrSystemSuspended
	}
	for _, section := range sections {
		if section == "" || section == SectionSystem {
			continue
		}
		if s.IsSuspended(section) {
			if section == SectionIssuance {
				return ErrIssuanceSuspended
			}
			return ErrSectionSuspended
		}
	}
	return nil
}

// SystemStatus is an in-memory StatusView whose sections are toggled by the
// operator.
type SystemStatus struct {
	mu        sync.RWMutex
	suspended map[string]string
}

func NewSystemStatus() *SystemStatus {
	return &SystemStatus{suspended: make(map[string]string)}
}

// Suspend marks the section suspended with an operator supplied reason.
func (s *SystemStatus) Suspend(section, reason string) {
	section = strings.TrimSpace(section)
	if s == nil || section == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended[section] = strings.TrimSpace(reason)
}

func (s *SystemStatus) Resume(section string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.suspended, strings.TrimSpace(section))
}

func (s *SystemStatus) IsSuspended(section string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.suspended[section]
	return ok
}

// Suspended returns the sorted list of suspended sections.
func (s *SystemStatus) Suspended() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.suspended))
	for section := range s.suspended {
		out = append(out, section)
	}
	sort.Strings(out)
	return out
}
