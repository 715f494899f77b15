package embedding

import "sync"

// The host runtime cannot be loaded into a process twice, so at most one
// embedded session may be live per process. The registry makes that rule
// explicit: New claims the slot, Dispose releases it, and Active gives
// ambient code a documented way to reach the running session instead of an
// implicit global.
var (
	registryMu sync.Mutex
	active     *Session
)

func claimInstance(s *Session) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if active != nil {
		return ErrInstanceExists
	}
	active = s
	return nil
}

func releaseInstance(s *Session) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if active == s {
		active = nil
	}
}

// Active returns the live embedded session, or nil when none is registered.
// Sessions created with AllowMultiple never occupy the slot.
func Active() *Session {
	registryMu.Lock()
	defer registryMu.Unlock()
	return active
}
