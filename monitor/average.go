package monitor

import "github.com/boyangli/homesense/models"

// DefaultWindow is the CO2 rolling window size
const DefaultWindow = 6

// MovingAverage is an unweighted mean over the last n pushed values. The
// window grows until it holds n values, then slides. It is not safe for
// concurrent use; each sensor owns its own tracker.
type MovingAverage struct {
	size    int
	history []float64
	next    int
	sum     float64
}

// NewMovingAverage creates a tracker of window n. n < 1 selects DefaultWindow.
func NewMovingAverage(n int) *MovingAverage {
	if n < 1 {
		n = DefaultWindow
	}
	return &MovingAverage{size: n, history: make([]float64, 0, n)}
}

// Push adds v and returns the average including it. Non-finite values are
// rejected and leave the window untouched.
func (m *MovingAverage) Push(v float64) (float64, error) {
	if err := models.CheckFinite("value", v); err != nil {
		return 0, err
	}
	if len(m.history) < m.size {
		m.history = append(m.history, v)
	} else {
		m.history[m.next] = v
		m.next = (m.next + 1) % m.size
	}

	m.sum = 0
	for _, x := range m.history {
		m.sum += x
	}
	return m.Average(), nil
}

// Average returns the current mean, 0 before the first push
func (m *MovingAverage) Average() float64 {
	if len(m.history) == 0 {
		return 0
	}
	return m.sum / float64(len(m.history))
}

// Len returns how many values the window currently holds
func (m *MovingAverage) Len() int { return len(m.history) }

// Size returns the window size
func (m *MovingAverage) Size() int { return m.size }
