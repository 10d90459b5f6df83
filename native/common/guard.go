package common

import (
	"errors"
	"strings"
	"sync"
)

// ErrModulePaused is returned by Guard when the named module is switched off.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a module-level kill switch is engaged. A nil view
// means nothing is ever paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard checks the pause switch for the module and returns ErrModulePaused
// when engaged.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// SwitchSet is a concurrency-safe PauseView backed by an in-memory set. It is
// used by the daemon wiring and by tests that need to flip switches mid-run.
type SwitchSet struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewSwitchSet constructs an empty switch set.
func NewSwitchSet() *SwitchSet {
	return &SwitchSet{paused: make(map[string]bool)}
}

// SetPaused engages or releases the switch for the module.
func (s *SwitchSet) SetPaused(module string, paused bool) {
	if s == nil {
		return
	}
	key := strings.ToLower(strings.TrimSpace(module))
	if key == "" {
		return
	}
	s.mu.Lock()
	s.paused[key] = paused
	s.mu.Unlock()
}

// IsPaused implements PauseView.
func (s *SwitchSet) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	key := strings.ToLower(strings.TrimSpace(module))
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[key]
}
