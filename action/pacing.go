package action

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Waiter is the simulated latency between two device actions
type Waiter interface {
	Wait(ctx context.Context)
}

// NoPause returns immediately
type NoPause struct{}

func (NoPause) Wait(context.Context) {}

// RandomPause sleeps for a uniform duration in [Min, Max]. The sleep ends
// early when ctx is done so shutdown is not held up.
type RandomPause struct {
	Min, Max time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomPause creates a pause source seeded from the clock
func NewRandomPause(min, max time.Duration) *RandomPause {
	return &RandomPause{Min: min, Max: max, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Next draws the next pause length
func (p *RandomPause) Next() time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p.Min + time.Duration(p.rnd.Int63n(int64(p.Max-p.Min)+1))
}

func (p *RandomPause) Wait(ctx context.Context) {
	d := p.Next()
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
