package session

import (
	"encoding/json"
	"os"
	"sync"
)

// Store is the scoped persistence capability for session continuity. It
// mirrors a tab-local browser store: best-effort, per-client, no errors
// surfaced to callers. The connection manager is the sole writer.
type Store interface {
	// Load returns the continuity record, if one is present.
	Load() (Record, bool)

	// Save persists the continuity record, replacing any prior one.
	Save(Record)

	// Clear removes the continuity record. Called on deliberate leave and
	// on room closure so the following transport-close schedules no retry.
	Clear()

	// ParticipantToken returns the token for this store's lifetime,
	// generating it on first use.
	ParticipantToken() string
}

// MemoryStore keeps the continuity record in process memory. This is the
// default: continuity scoped to the client's lifetime, like a browser tab.
type MemoryStore struct {
	mu      sync.Mutex
	record  Record
	present bool
	token   string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record, s.present
}

func (s *MemoryStore) Save(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = r
	s.present = true
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = Record{}
	s.present = false
}

func (s *MemoryStore) ParticipantToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		s.token = NewToken()
	}
	return s.token
}

// fileState is the on-disk form of a FileStore.
type fileState struct {
	Token  string  `json:"participantToken"`
	Record *Record `json:"activeRoom,omitempty"`
}

// FileStore persists the continuity record and participant token to a JSON
// file, surviving process restarts. Writes are best-effort: an unwritable
// path degrades to in-memory behavior rather than failing the session.
type FileStore struct {
	mu    sync.Mutex
	path  string
	state fileState
}

// NewFileStore opens (or initializes) a file-backed store at path.
func NewFileStore(path string) *FileStore {
	s := &FileStore{path: path}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &s.state)
	}
	return s
}

func (s *FileStore) Load() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Record == nil {
		return Record{}, false
	}
	return *s.state.Record, true
}

func (s *FileStore) Save(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Record = &r
	s.flushLocked()
}

func (s *FileStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Record = nil
	s.flushLocked()
}

func (s *FileStore) ParticipantToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Token == "" {
		s.state.Token = NewToken()
		s.flushLocked()
	}
	return s.state.Token
}

func (s *FileStore) flushLocked() {
	data, err := json.Marshal(s.state)
	if err != nil {
		return
	}
	_ = os.WriteFile(s.path, data, 0o600)
}
