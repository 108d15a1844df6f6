// Package session holds the lifecycle shared by every store session:
// Created -> Started -> Committed | Aborted -> Ended.
package session

import (
	"sync"

	"github.com/sheikh-saqib/account-ledger/internal/models"
)

type Phase int

const (
	Created Phase = iota
	Started
	Committed
	Aborted
	Ended
)

func (p Phase) String() string {
	switch p {
	case Created:
		return "created"
	case Started:
		return "started"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// State tracks the phase of one session. Adapters call the transition methods
// before touching the driver; a non-nil error means the driver must not be called.
type State struct {
	mu    sync.Mutex
	phase Phase
}

func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Active reports whether reads and writes are allowed
func (s *State) Active() bool {
	return s.Phase() == Started
}

// CheckActive returns the error an operation on a non-started session gets
func (s *State) CheckActive() error {
	switch s.Phase() {
	case Started:
		return nil
	case Ended:
		return models.ErrSessionEnded
	default:
		return models.ErrSessionInactive
	}
}

// BeginStart moves Created -> Started. Any other phase is a programming error.
func (s *State) BeginStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case Created:
		s.phase = Started
		return nil
	case Ended:
		return models.ErrSessionEnded
	default:
		return models.ErrSessionAlreadyStarted
	}
}

// RevertStart undoes BeginStart when the driver failed to open the transaction
func (s *State) RevertStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == Started {
		s.phase = Created
	}
}

// BeginCommit moves Started -> Committed. The phase moves even when the driver
// commit then fails: a failed commit leaves nothing to abort.
func (s *State) BeginCommit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case Started:
		s.phase = Committed
		return nil
	case Ended:
		return models.ErrSessionEnded
	default:
		return models.ErrSessionInactive
	}
}

// BeginAbort reports whether the driver transaction still needs rolling back.
// Aborting a session that is not started is a no-op.
func (s *State) BeginAbort() (rollback bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case Started:
		s.phase = Aborted
		return true, nil
	case Ended:
		return false, models.ErrSessionEnded
	default:
		return false, nil
	}
}

// End moves to Ended. first is false on repeated calls; open is true when the
// transaction was started but never committed or aborted.
func (s *State) End() (first bool, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == Ended {
		return false, false
	}
	open = s.phase == Started
	s.phase = Ended
	return true, open
}
