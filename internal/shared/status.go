package shared

import "sync"

// ServiceStatus owns the operator-controlled maintenance toggle. It replaces
// what used to be ambient process-wide state with an injectable object:
// initialised to not-suspended with no redirect, mutated only through this API.
type ServiceStatus struct {
	mu          sync.RWMutex
	suspended   bool
	redirectURL string
}

// NewServiceStatus returns a status object in the default running state.
func NewServiceStatus() *ServiceStatus {
	return &ServiceStatus{}
}

// Suspend puts the service into maintenance mode, optionally pointing clients
// at an alternate URL.
func (s *ServiceStatus) Suspend(redirectURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = true
	s.redirectURL = redirectURL
}

// Resume clears the maintenance flag and redirect.
func (s *ServiceStatus) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = false
	s.redirectURL = ""
}

// Snapshot returns the current flag and redirect target.
func (s *ServiceStatus) Snapshot() (suspended bool, redirectURL string) {
	if s == nil {
		return false, ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suspended, s.redirectURL
}
