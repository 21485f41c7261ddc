package state

import (
	"sync"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/model"
)

func TestInitialSnapshot(t *testing.T) {
	s := NewStore().Read()
	if s.LastUpdate != nil {
		t.Fatal("lastUpdate must be nil before first message")
	}
	if s.StatusText != model.InitialStatus || s.RelayStatus != model.RelayOff {
		t.Fatalf("unexpected initial snapshot %+v", s)
	}
}

func TestApplyStampsLastUpdate(t *testing.T) {
	st := NewStore()
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	got := st.Apply(at, func(s *model.SensorSnapshot) { s.Temperature = 23.5 })
	if got.Temperature != 23.5 || got.LastUpdate == nil || !got.LastUpdate.Equal(at) {
		t.Fatalf("Apply returned %+v", got)
	}
	// the returned copy must not alias internal state
	*got.LastUpdate = at.Add(time.Hour)
	if !st.Read().LastUpdate.Equal(at) {
		t.Fatal("snapshot aliased by caller")
	}
}

func TestConcurrentApply(t *testing.T) {
	st := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.Apply(time.Now(), func(s *model.SensorSnapshot) { s.Humidity++ })
		}()
		go func() {
			defer wg.Done()
			_ = st.Read()
		}()
	}
	wg.Wait()
	if h := st.Read().Humidity; h != 50 {
		t.Fatalf("humidity = %v, want 50", h)
	}
}
