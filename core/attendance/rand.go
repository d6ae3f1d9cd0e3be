package attendance

import (
	"math/rand"
	"sync"
	"time"
)

// RandSource is the randomness used by the heuristic analysis.
type RandSource interface {
	// Intn returns an int in [0,n).
	Intn(n int) int
	// Float64 returns a float in [0,1).
	Float64() float64
	Shuffle(n int, swap func(i, j int))
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

var _ RandSource = (*lockedRand)(nil)

// NewRandSource returns a goroutine safe RandSource. A zero seed is replaced by the clock.
func NewRandSource(seed int64) RandSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Shuffle(n int, swap func(i, j int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r.Shuffle(n, swap)
}
