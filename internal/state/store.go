// Package state owns the in-memory snapshot shared by the MQTT handlers and the HTTP API.
package state

import (
	"sync"
	"time"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/model"
)

type Store struct {
	mu   sync.Mutex
	snap model.SensorSnapshot
}

func NewStore() *Store {
	return &Store{snap: model.NewSensorSnapshot()}
}

// Read returns a copy of the current snapshot.
func (s *Store) Read() model.SensorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// Apply runs mutate and stamps LastUpdate in one critical section and
// returns the post-update snapshot. mutate must not block.
func (s *Store) Apply(at time.Time, mutate func(*model.SensorSnapshot)) model.SensorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mutate != nil {
		mutate(&s.snap)
	}
	ts := at
	s.snap.LastUpdate = &ts
	return s.snap.Clone()
}
