package consultation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for an unknown session id.
var ErrNotFound = errors.New("consultation not found")

// Store holds one State per active session. Implementations must support
// concurrent Get/Save for different sessions; turn-level serialization per
// session is provided by Lock.
type Store interface {
	Get(sessionID string) (*State, error)
	// Create returns a fresh State. An empty id generates one; a caller-
	// supplied id that already exists returns the existing state (upsert
	// semantics, favoring availability for the kiosk front end).
	Create(sessionID string, language string) *State
	Save(state *State) error
	Delete(sessionID string) bool
	// Lock acquires the per-session mutex and returns its release func.
	// ProcessTurn for a given session must run under this lock.
	Lock(sessionID string) func()
	Count() int
}

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*State

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewMemoryStore() Store {
	return &memoryStore{
		sessions: make(map[string]*State),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *memoryStore) Get(sessionID string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

func (m *memoryStore) Create(sessionID string, language string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID != "" {
		if st, ok := m.sessions[sessionID]; ok {
			return st.Clone()
		}
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	if language == "" {
		language = "en"
	}

	now := time.Now()
	st := &State{
		SessionID:         sessionID,
		Language:          language,
		Stage:             StageGreeting,
		ExtractedSymptoms: []string{},
		MessageHistory:    []Message{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	m.sessions[sessionID] = st
	return st.Clone()
}

func (m *memoryStore) Save(state *State) error {
	if state == nil || state.SessionID == "" {
		return errors.New("state must carry a session id")
	}
	state.UpdatedAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[state.SessionID] = state.Clone()
	return nil
}

func (m *memoryStore) Delete(sessionID string) bool {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	// Drop the turn lock too so ended sessions do not accumulate mutexes.
	// A holder of the old mutex keeps a valid reference; it just no longer
	// guards anything, which is fine once the session is gone.
	m.lockMu.Lock()
	delete(m.locks, sessionID)
	m.lockMu.Unlock()

	return ok
}

func (m *memoryStore) Lock(sessionID string) func() {
	m.lockMu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	m.lockMu.Unlock()

	l.Lock()
	return l.Unlock
}

func (m *memoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
