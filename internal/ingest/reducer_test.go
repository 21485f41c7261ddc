package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/metrics"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/model"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/state"
	"github.com/LeonardoBeccarini/hydroponics_bridge/pkg/broker"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type write struct {
	temperature, humidity float64
	brightness            int
}

type recordingWriter struct {
	mu     sync.Mutex
	writes []write
	err    error
}

func (w *recordingWriter) InsertReading(_ context.Context, t, h float64, b int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, write{t, h, b})
	return w.err
}

func (w *recordingWriter) all() []write {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]write(nil), w.writes...)
}

type recordingCache struct {
	mu    sync.Mutex
	snaps []model.SensorSnapshot
}

func (c *recordingCache) Store(_ context.Context, s model.SensorSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
	return nil
}

var topics = model.NewTopicMap("hidroponik", model.TopicNames{})

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func msg(f model.Field, payload string, at time.Time) broker.Message {
	return broker.Message{Topic: topics.Topic(f), Payload: []byte(payload), ReceivedAt: at}
}

func TestTemperatureMessageUpdatesSnapshot(t *testing.T) {
	st := state.NewStore()
	r := NewReducer(topics, st, quiet())
	at := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)

	if err := r.Handle(msg(model.FieldTemperature, "23.5", at)); err != nil {
		t.Fatal(err)
	}
	got := st.Read()
	if got.Temperature != 23.5 {
		t.Fatalf("temperature = %v", got.Temperature)
	}
	if got.LastUpdate == nil || !got.LastUpdate.Equal(at) {
		t.Fatalf("lastUpdate = %v", got.LastUpdate)
	}
}

func TestPersistenceSequence(t *testing.T) {
	st := state.NewStore()
	w := &recordingWriter{}
	r := NewReducer(topics, st, quiet(), WithWriter("sql", w))
	now := time.Now()

	_ = r.Handle(msg(model.FieldTemperature, "25.0", now))
	r.Wait()
	if n := len(w.all()); n != 0 {
		t.Fatalf("write after first update: %d", n)
	}

	_ = r.Handle(msg(model.FieldHumidity, "60.0", now))
	r.Wait()
	_ = r.Handle(msg(model.FieldTemperature, "26.0", now))
	r.Wait()

	got := w.all()
	want := []write{{25, 60, 0}, {26, 60, 0}}
	if len(got) != len(want) {
		t.Fatalf("writes = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestStatusUpdateAlsoPersistsWhenBothPositive(t *testing.T) {
	st := state.NewStore()
	w := &recordingWriter{}
	r := NewReducer(topics, st, quiet(), WithWriter("sql", w))
	now := time.Now()
	_ = r.Handle(msg(model.FieldTemperature, "25", now))
	_ = r.Handle(msg(model.FieldHumidity, "60", now))
	_ = r.Handle(msg(model.FieldStatus, "LED ON", now))
	r.Wait()
	if n := len(w.all()); n != 2 {
		t.Fatalf("writes = %d, want 2", n)
	}
	if st.Read().StatusText != "LED ON" {
		t.Fatal("status text not applied")
	}
}

func TestWriteFailureKeepsSnapshot(t *testing.T) {
	st := state.NewStore()
	w := &recordingWriter{err: errors.New("db down")}
	m := metrics.New()
	r := NewReducer(topics, st, quiet(), WithWriter("sql", w), WithMetrics(m))
	now := time.Now()
	_ = r.Handle(msg(model.FieldTemperature, "25", now))
	if err := r.Handle(msg(model.FieldHumidity, "60", now)); err != nil {
		t.Fatalf("persistence failure leaked to handler: %v", err)
	}
	r.Wait()
	s := st.Read()
	if s.Temperature != 25 || s.Humidity != 60 {
		t.Fatalf("snapshot rolled back: %+v", s)
	}
	if n := len(w.all()); n != 1 {
		t.Fatalf("writes = %d", n)
	}
}

func TestUnknownTopicIgnored(t *testing.T) {
	st := state.NewStore()
	w := &recordingWriter{}
	m := metrics.New()
	r := NewReducer(topics, st, quiet(), WithWriter("sql", w), WithMetrics(m))
	before := st.Read()

	err := r.Handle(broker.Message{Topic: "hidroponik/sensor/ph", Payload: []byte("7.1"), ReceivedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	after := st.Read()
	if after.LastUpdate != nil || after.Temperature != before.Temperature || after.StatusText != before.StatusText {
		t.Fatalf("snapshot changed: %+v", after)
	}
	const want = `
# HELP hydroponics_mqtt_messages_ignored_total Messages received on topics outside the topic map.
# TYPE hydroponics_mqtt_messages_ignored_total counter
hydroponics_mqtt_messages_ignored_total 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(want), "hydroponics_mqtt_messages_ignored_total"); err != nil {
		t.Fatal(err)
	}
	if n := len(w.all()); n != 0 {
		t.Fatalf("unknown topic triggered %d writes", n)
	}
}

func TestControlTopicNotApplied(t *testing.T) {
	st := state.NewStore()
	r := NewReducer(topics, st, quiet())
	_ = r.Handle(msg(model.FieldRelayControl, "ON", time.Now()))
	if s := st.Read(); s.LastUpdate != nil || s.RelayStatus != model.RelayOff {
		t.Fatalf("control echo applied: %+v", s)
	}
}

func TestNonNumericPayloadBecomesNaN(t *testing.T) {
	st := state.NewStore()
	w := &recordingWriter{}
	r := NewReducer(topics, st, quiet(), WithWriter("sql", w))
	now := time.Now()
	_ = r.Handle(msg(model.FieldHumidity, "60", now))
	_ = r.Handle(msg(model.FieldTemperature, "sensor-error", now))
	r.Wait()

	s := st.Read()
	if !math.IsNaN(s.Temperature) {
		t.Fatalf("temperature = %v, want NaN", s.Temperature)
	}
	if s.LastUpdate == nil {
		t.Fatal("invalid payload must still stamp lastUpdate")
	}
	if n := len(w.all()); n != 0 {
		t.Fatalf("NaN reading persisted %d times", n)
	}
}

func TestInfinitePayloadIsNotPersisted(t *testing.T) {
	for _, payload := range []string{"Infinity", "Inf", "+inf"} {
		st := state.NewStore()
		w := &recordingWriter{}
		r := NewReducer(topics, st, quiet(), WithWriter("sql", w))
		now := time.Now()
		_ = r.Handle(msg(model.FieldHumidity, "60", now))
		_ = r.Handle(msg(model.FieldTemperature, payload, now))
		_ = r.Handle(msg(model.FieldStatus, "LED ON", now))
		r.Wait()

		if s := st.Read(); !math.IsInf(s.Temperature, 1) {
			t.Fatalf("%s: temperature = %v, want +Inf in the snapshot", payload, s.Temperature)
		}
		if n := len(w.all()); n != 0 {
			t.Fatalf("%s: infinite reading persisted %d times", payload, n)
		}
	}
}

func TestCloseStopsBackgroundWrites(t *testing.T) {
	st := state.NewStore()
	w := &recordingWriter{}
	r := NewReducer(topics, st, quiet(), WithWriter("sql", w))
	now := time.Now()
	_ = r.Handle(msg(model.FieldTemperature, "25", now))
	_ = r.Handle(msg(model.FieldHumidity, "60", now))

	done := make(chan struct{})
	go func() {
		// late deliveries racing with shutdown
		for i := 0; i < 100; i++ {
			_ = r.Handle(msg(model.FieldTemperature, "26", now))
		}
		close(done)
	}()
	r.Close()
	<-done
	before := len(w.all())

	_ = r.Handle(msg(model.FieldTemperature, "27", now))
	r.Wait()
	if got := len(w.all()); got != before {
		t.Fatalf("write scheduled after Close: %d -> %d", before, got)
	}
	if st.Read().Temperature != 27 {
		t.Fatal("snapshot must keep updating after Close")
	}
}

func TestRelayStatus(t *testing.T) {
	st := state.NewStore()
	r := NewReducer(topics, st, quiet())
	_ = r.Handle(msg(model.FieldRelayStatus, "on\n", time.Now()))
	if st.Read().RelayStatus != model.RelayOn {
		t.Fatal("relay ON not applied")
	}
	_ = r.Handle(msg(model.FieldRelayStatus, "garbage", time.Now()))
	if st.Read().RelayStatus != model.RelayOn {
		t.Fatal("invalid relay payload must keep the previous state")
	}
}

func TestSnapshotSinkReceivesEveryUpdate(t *testing.T) {
	st := state.NewStore()
	c := &recordingCache{}
	r := NewReducer(topics, st, quiet(), WithSnapshotSink(c))
	_ = r.Handle(msg(model.FieldTemperature, "21", time.Now()))
	_ = r.Handle(msg(model.FieldStatus, "ok", time.Now()))
	r.Wait()
	if len(c.snaps) != 2 {
		t.Fatalf("cache got %d snapshots", len(c.snaps))
	}
}

func TestShouldPersist(t *testing.T) {
	cases := []struct {
		temp, hum float64
		want      bool
	}{
		{25, 60, true},
		{0, 60, false},
		{25, 0, false},
		{-1, 60, false},
		{math.NaN(), 60, false},
		{25, math.NaN(), false},
		{math.Inf(1), 60, false},
		{25, math.Inf(1), false},
		{math.Inf(-1), 60, false},
	}
	for _, c := range cases {
		got := ShouldPersist(model.SensorSnapshot{Temperature: c.temp, Humidity: c.hum})
		if got != c.want {
			t.Errorf("ShouldPersist(%v, %v) = %v", c.temp, c.hum, got)
		}
	}
}
