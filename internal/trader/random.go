package trader

import (
	"math/rand/v2"
	"sync"
	"time"

	"hedgebot/internal/model"

	"github.com/shopspring/decimal"
)

// random is a mutex guarded source shared by concurrent account goroutines.
type random struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newRandom(seed uint64) *random {
	return &random{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *random) intn(n int) int {
	if n <= 1 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.IntN(n)
}

// between returns a value in [lo, hi].
func (r *random) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.intn(hi-lo+1)
}

// uniform returns a value in [lo, hi).
func (r *random) uniform(lo, hi float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + r.r.Float64()*(hi-lo)
}

func (r *random) duration(d model.DurationRange) time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return d.Min + time.Duration(r.r.Int64N(int64(d.Max-d.Min)+1))
}

func (r *random) decimal(d model.DecimalRange) decimal.Decimal {
	if d.Max.LessThanOrEqual(d.Min) {
		return d.Min
	}
	span := d.Max.Sub(d.Min).InexactFloat64()
	return d.Min.Add(decimal.NewFromFloat(r.uniform(0, span)))
}

func (r *random) shuffle(s []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.r.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}
