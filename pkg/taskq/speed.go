package taskq

import (
	"time"

	"github.com/VividCortex/ewma"
)

const (
	speedSampleInterval = 250 * time.Millisecond
	speedAge            = 8
)

// speedMeter turns chunk arrivals into a smoothed bytes/sec figure.
type speedMeter struct {
	avg     ewma.MovingAverage
	start   time.Time
	bytes   int64
	current float64
}

func newSpeedMeter(now time.Time) *speedMeter {
	return &speedMeter{avg: ewma.NewMovingAverage(speedAge), start: now}
}

// observe records n bytes arriving at now and returns the current speed.
func (m *speedMeter) observe(n int64, now time.Time) float64 {
	m.bytes += n
	elapsed := now.Sub(m.start)
	if elapsed < speedSampleInterval {
		if m.current == 0 && elapsed > 0 {
			return float64(m.bytes) / elapsed.Seconds()
		}
		return m.current
	}
	rate := float64(m.bytes) / elapsed.Seconds()
	m.avg.Add(rate)
	m.bytes = 0
	m.start = now
	// VariableEWMA reports zero while warming up.
	if v := m.avg.Value(); v > 0 {
		m.current = v
	} else {
		m.current = rate
	}
	return m.current
}
