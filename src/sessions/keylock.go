package sessions

import "sync"

// sessionLocks hands out one mutex per session ID so that preview/execute
// calls and the cleanup sweep serialize per session without blocking other
// sessions. Entries are reference counted and dropped once unheld.
type sessionLocks struct {
	mu   sync.Mutex
	held map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{held: make(map[string]*lockEntry)}
}

func (l *sessionLocks) Lock(id string) {
	l.mu.Lock()
	e, ok := l.held[id]
	if !ok {
		e = &lockEntry{}
		l.held[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

func (l *sessionLocks) Unlock(id string) {
	l.mu.Lock()
	e, ok := l.held[id]
	if !ok {
		l.mu.Unlock()
		panic("sessions: unlock of unheld session lock " + id)
	}
	e.refs--
	if e.refs == 0 {
		delete(l.held, id)
	}
	l.mu.Unlock()

	e.mu.Unlock()
}
