package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coocood/freecache"
	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrStaleDetection means the session moved on to another detection (or
	// was cleared) while the caller was producing text for the old one.
	ErrStaleDetection = errors.New("session detection changed")
)

// State is what one user interaction remembers between requests.
type State struct {
	ID              string    `json:"id"`
	Detection       uint64    `json:"detection"`
	DetectedDisease string    `json:"detected_disease,omitempty"`
	Confidence      float32   `json:"confidence,omitempty"`
	DiseaseInfo     string    `json:"disease_info,omitempty"`
	LatestAnswer    string    `json:"latest_answer,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (s State) HasDetection() bool {
	return s.DetectedDisease != ""
}

// Store keeps session state in a freecache instance. Entries expire after
// the TTL unless touched; every update refreshes it.
type Store struct {
	mu    sync.Mutex
	cache *freecache.Cache
	ttl   time.Duration
	now   func() time.Time
}

func NewStore(sizeInBytes int, ttl time.Duration) *Store {
	return &Store{
		cache: freecache.NewCache(sizeInBytes),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (s *Store) Create() (State, error) {
	state := State{ID: uuid.NewString(), UpdatedAt: s.now()}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.put(state); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s *Store) Get(id string) (State, error) {
	return s.get(id)
}

// SetDetection records a new detection and forgets the info and answer that
// belonged to the previous one. The returned State.Detection identifies it
// for the follow-up writes.
func (s *Store) SetDetection(id, disease string, confidence float32) (State, error) {
	return s.update(id, func(state *State) error {
		state.Detection++
		state.DetectedDisease = disease
		state.Confidence = confidence
		state.DiseaseInfo = ""
		state.LatestAnswer = ""
		return nil
	})
}

// SetDiseaseInfo stores info for the given detection. It fails with
// ErrStaleDetection when a newer detection or a Clear got there first.
func (s *Store) SetDiseaseInfo(id string, detection uint64, info string) (State, error) {
	return s.update(id, func(state *State) error {
		if state.Detection != detection || !state.HasDetection() {
			return ErrStaleDetection
		}
		state.DiseaseInfo = info
		return nil
	})
}

func (s *Store) SetLatestAnswer(id string, detection uint64, answer string) (State, error) {
	return s.update(id, func(state *State) error {
		if state.Detection != detection || !state.HasDetection() {
			return ErrStaleDetection
		}
		state.LatestAnswer = answer
		return nil
	})
}

// Clear resets the session to its freshly created state. The id stays valid
// and in-flight writes for the old detection are rejected.
func (s *Store) Clear(id string) (State, error) {
	return s.update(id, func(state *State) error {
		*state = State{ID: state.ID, Detection: state.Detection + 1}
		return nil
	})
}

func (s *Store) Delete(id string) bool {
	return s.cache.Del([]byte(id))
}

func (s *Store) EntryCount() int64 {
	return s.cache.EntryCount()
}

func (s *Store) update(id string, mutate func(*State) error) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.get(id)
	if err != nil {
		return State{}, err
	}
	if err := mutate(&state); err != nil {
		return State{}, err
	}
	state.UpdatedAt = s.now()
	if err := s.put(state); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s *Store) get(id string) (State, error) {
	data, err := s.cache.Get([]byte(id))
	if errors.Is(err, freecache.ErrNotFound) {
		return State{}, ErrSessionNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read session %s: %w", id, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return state, nil
}

func (s *Store) put(state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", state.ID, err)
	}
	if err := s.cache.Set([]byte(state.ID), data, int(s.ttl.Seconds())); err != nil {
		return fmt.Errorf("failed to store session %s: %w", state.ID, err)
	}
	return nil
}
