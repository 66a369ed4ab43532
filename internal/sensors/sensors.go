// Package sensors simulates the dashboard's grow-room readings.
package sensors

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Status of a reading.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Reading is one sample of every sensor.
type Reading struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	PH          float64   `json:"ph"`
	EC          float64   `json:"ec"`
	Light       float64   `json:"light"`
	WaterLevel  float64   `json:"waterLevel"`
	Time        time.Time `json:"time"`
}

// Initial is the first reading of a new Simulator.
var Initial = Reading{
	Temperature: 24.5,
	Humidity:    68,
	PH:          6.2,
	EC:          1.8,
	Light:       850,
	WaterLevel:  78,
}

// TemperatureStatus is warning above 28 C.
func (r Reading) TemperatureStatus() Status {
	if r.Temperature > 28 {
		return StatusWarning
	}
	return StatusNormal
}

// PHStatus is warning outside 5.5..7.
func (r Reading) PHStatus() Status {
	if r.PH < 5.5 || r.PH > 7 {
		return StatusWarning
	}
	return StatusNormal
}

// WaterLevelStatus is critical below 30 %.
func (r Reading) WaterLevelStatus() Status {
	if r.WaterLevel < 30 {
		return StatusCritical
	}
	return StatusNormal
}

// Statuses returns the status of every sensor keyed by its JSON name.
func (r Reading) Statuses() map[string]Status {
	return map[string]Status{
		"temperature": r.TemperatureStatus(),
		"humidity":    StatusNormal,
		"ph":          r.PHStatus(),
		"ec":          StatusNormal,
		"light":       StatusNormal,
		"waterLevel":  r.WaterLevelStatus(),
	}
}

// Simulator produces readings by a bounded random walk. It is safe for
// concurrent use.
type Simulator struct {
	mu   sync.Mutex
	rng  *rand.Rand
	last Reading
	now  func() time.Time
}

// NewSimulator starts at Initial. A nil rng uses a randomly seeded one.
func NewSimulator(rng *rand.Rand) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Simulator{rng: rng, last: Initial, now: time.Now}
}

// Current returns the latest reading without advancing.
func (s *Simulator) Current() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.last
	r.Time = s.now()
	return r
}

// Next advances every sensor one step and returns the new reading.
func (s *Simulator) Next() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.last
	s.last = Reading{
		Temperature: round1(prev.Temperature + s.delta(0.25)),
		Humidity:    clamp(prev.Humidity+s.delta(1), 40, 100),
		PH:          round1(prev.PH + s.delta(0.05)),
		EC:          round1(prev.EC + s.delta(0.05)),
		Light:       math.Round(prev.Light + s.delta(25)),
		WaterLevel:  clamp(prev.WaterLevel+s.delta(1), 20, 100),
	}
	r := s.last
	r.Time = s.now()
	return r
}

// delta is uniform in [-span, span).
func (s *Simulator) delta(span float64) float64 {
	return (s.rng.Float64()*2 - 1) * span
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }
