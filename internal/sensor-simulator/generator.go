package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/model"
)

// ====== Tunables ======
const (
	// drift massimo per minuto della random walk
	tempStepPerMin = 0.4
	humStepPerMin  = 1.5

	// con la pompa accesa l'acqua raffredda e umidifica
	pumpCoolingPerMin = 0.3
	pumpHumidPerMin   = 1.2

	minTemp, maxTemp = 15.0, 42.0
	minHum, maxHum   = 20.0, 98.0

	cautionTemp = 30.0
	dangerTemp  = 35.0
)

// Status texts shown on the dashboard. The words BAHAYA and HATI-HATI drive
// its colour coding.
const (
	StatusSafe    = "AMAN"
	StatusCaution = "HATI-HATI: suhu tinggi"
	StatusDanger  = "BAHAYA: suhu kritis"
)

// Sample is one simulated reading.
type Sample struct {
	Temperature float64
	Humidity    float64
	Status      string
}

// DataGenerator keeps the simulated climate and advances it with a bounded
// random walk, biased by the pump state.
type DataGenerator struct {
	mu          sync.Mutex
	rnd         *rand.Rand
	last        time.Time
	temperature float64
	humidity    float64
	pump        model.RelayState
	now         func() time.Time
}

func NewDataGenerator(seed int64, temperature, humidity float64) *DataGenerator {
	return &DataGenerator{
		rnd:         rand.New(rand.NewSource(seed)),
		temperature: clamp(temperature, minTemp, maxTemp),
		humidity:    clamp(humidity, minHum, maxHum),
		pump:        model.RelayOff,
		now:         time.Now,
	}
}

// SetPump records the relay state; it only affects future steps.
func (g *DataGenerator) SetPump(st model.RelayState) {
	g.mu.Lock()
	g.pump = st
	g.mu.Unlock()
}

func (g *DataGenerator) Pump() model.RelayState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pump
}

// Next advances the walk by the time elapsed since the previous call.
func (g *DataGenerator) Next() Sample {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.last.IsZero() {
		g.last = now
	}
	dtMin := now.Sub(g.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	g.last = now

	g.temperature += (g.rnd.Float64()*2 - 1) * tempStepPerMin * dtMin
	g.humidity += (g.rnd.Float64()*2 - 1) * humStepPerMin * dtMin
	if g.pump == model.RelayOn {
		g.temperature -= pumpCoolingPerMin * dtMin
		g.humidity += pumpHumidPerMin * dtMin
	}
	g.temperature = clamp(g.temperature, minTemp, maxTemp)
	g.humidity = clamp(g.humidity, minHum, maxHum)

	return Sample{
		Temperature: round1(g.temperature),
		Humidity:    round1(g.humidity),
		Status:      StatusFor(g.temperature),
	}
}

// StatusFor maps a temperature to the LED status text.
func StatusFor(temperature float64) string {
	switch {
	case temperature >= dangerTemp:
		return StatusDanger
	case temperature >= cautionTemp:
		return StatusCaution
	}
	return StatusSafe
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
