// Package quantile provides a bounded-memory streaming quantile estimator.
//
// Until warmup samples arrive the estimate comes from a sorted buffer; after
// that the estimator switches permanently to an incremental five-marker
// scheme (P-square style) with O(1) ingest and constant memory.
package quantile

import (
	"math"
	"sort"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
)

const markerCount = 5

// Config tunes one estimator instance.
type Config struct {
	// Warmup is the number of samples buffered before switching to markers.
	Warmup int
	// Principal is the quantile the marker layout is centered on.
	Principal float64
	// Default is returned by Estimate before any observation arrives.
	Default float64
}

// Estimator is a single-writer streaming quantile estimate. Not safe for
// concurrent use; each decision stream owns its own instance.
type Estimator struct {
	cfg   Config
	count int

	// warmup phase
	buf []float64

	// marker phase
	heights [markerCount]float64
	pos     [markerCount]float64
	desired [markerCount]float64
	incr    [markerCount]float64
}

// New creates an estimator. Zero-value config fields fall back to
// warmup=100, principal=0.9.
func New(cfg Config) *Estimator {
	if cfg.Warmup <= 0 {
		cfg.Warmup = 100
	}
	if cfg.Principal <= 0 || cfg.Principal >= 1 {
		cfg.Principal = 0.9
	}
	e := &Estimator{cfg: cfg}
	p := cfg.Principal
	e.incr = [markerCount]float64{0, p / 2, p, (1 + p) / 2, 1}
	return e
}

// Count returns the number of observed samples.
func (e *Estimator) Count() int { return e.count }

// Observe ingests one value. O(1) amortized; memory bounded by the warmup
// buffer size.
func (e *Estimator) Observe(v float64) {
	e.count++
	if e.buf != nil || e.count <= e.cfg.Warmup {
		e.buf = append(e.buf, v)
		if e.count >= e.cfg.Warmup {
			e.initMarkers()
		}
		return
	}
	e.update(v)
}

// Estimate returns the current q-th quantile estimate. It never fails: with
// no observations it returns the configured default.
func (e *Estimator) Estimate(q float64) float64 {
	if e.count == 0 {
		return e.cfg.Default
	}
	if q <= 0 {
		q = 0
	}
	if q >= 1 {
		q = 1
	}
	if e.buf != nil {
		if len(e.buf) == 0 {
			return e.cfg.Default
		}
		return empirical(e.buf, q)
	}
	return e.interpolate(q)
}

// initMarkers seeds the five markers from the warmup buffer and drops it.
func (e *Estimator) initMarkers() {
	sorted := append([]float64(nil), e.buf...)
	sort.Float64s(sorted)
	n := float64(len(sorted))
	for i := 0; i < markerCount; i++ {
		f := e.incr[i]
		e.heights[i] = quantileSorted(sorted, f)
		e.pos[i] = 1 + f*(n-1)
		e.desired[i] = e.pos[i]
	}
	// markers must be strictly ordered in position
	for i := 1; i < markerCount; i++ {
		if e.pos[i] <= e.pos[i-1] {
			e.pos[i] = e.pos[i-1] + 1
		}
	}
	e.buf = nil
}

// update applies one P-square step.
func (e *Estimator) update(v float64) {
	var k int
	switch {
	case v < e.heights[0]:
		e.heights[0] = v
		k = 0
	case v >= e.heights[markerCount-1]:
		e.heights[markerCount-1] = v
		k = markerCount - 2
	default:
		for i := 0; i < markerCount-1; i++ {
			if v >= e.heights[i] && v < e.heights[i+1] {
				k = i
				break
			}
		}
	}

	for i := k + 1; i < markerCount; i++ {
		e.pos[i]++
	}
	for i := 0; i < markerCount; i++ {
		e.desired[i] += e.incr[i]
	}

	for i := 1; i < markerCount-1; i++ {
		d := e.desired[i] - e.pos[i]
		if (d >= 1 && e.pos[i+1]-e.pos[i] > 1) || (d <= -1 && e.pos[i-1]-e.pos[i] < -1) {
			sign := 1.0
			if d < 0 {
				sign = -1.0
			}
			h := e.parabolic(i, sign)
			if e.heights[i-1] < h && h < e.heights[i+1] {
				e.heights[i] = h
			} else {
				e.heights[i] = e.linear(i, sign)
			}
			e.pos[i] += sign
		}
	}
}

func (e *Estimator) parabolic(i int, d float64) float64 {
	n := e.pos
	q := e.heights
	return q[i] + d/(n[i+1]-n[i-1])*
		((n[i]-n[i-1]+d)*(q[i+1]-q[i])/(n[i+1]-n[i])+
			(n[i+1]-n[i]-d)*(q[i]-q[i-1])/(n[i]-n[i-1]))
}

func (e *Estimator) linear(i int, d float64) float64 {
	j := i + int(d)
	return e.heights[i] + d*(e.heights[j]-e.heights[i])/(e.pos[j]-e.pos[i])
}

// interpolate reads an arbitrary quantile off the marker curve by piecewise
// linear interpolation over the marker fractions.
func (e *Estimator) interpolate(q float64) float64 {
	if q <= e.incr[0] {
		return e.heights[0]
	}
	for i := 1; i < markerCount; i++ {
		if q <= e.incr[i] {
			span := e.incr[i] - e.incr[i-1]
			if span <= 0 {
				return e.heights[i]
			}
			t := (q - e.incr[i-1]) / span
			return e.heights[i-1] + t*(e.heights[i]-e.heights[i-1])
		}
	}
	return e.heights[markerCount-1]
}

// empirical computes a linearly interpolated quantile of an unsorted sample.
func empirical(sample []float64, q float64) float64 {
	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)
	return quantileSorted(sorted, q)
}

func quantileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	idx := q * float64(n-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Snapshot serializes the estimator for persistence.
func (e *Estimator) Snapshot() models.QuantileSnapshot {
	snap := models.QuantileSnapshot{Count: e.count}
	if e.buf != nil {
		snap.Warmup = append([]float64(nil), e.buf...)
		return snap
	}
	snap.Heights = append([]float64(nil), e.heights[:]...)
	pos := make([]int, markerCount)
	for i, p := range e.pos {
		pos[i] = int(math.Round(p))
	}
	snap.Pos = pos
	snap.Desired = append([]float64(nil), e.desired[:]...)
	snap.Incr = append([]float64(nil), e.incr[:]...)
	return snap
}

// Restore rebuilds an estimator from a snapshot taken with the same config.
func Restore(cfg Config, snap models.QuantileSnapshot) *Estimator {
	e := New(cfg)
	e.count = snap.Count
	if len(snap.Heights) != markerCount {
		// still in warmup when snapshotted
		e.buf = append([]float64(nil), snap.Warmup...)
		if e.buf == nil {
			e.buf = []float64{}
		}
		if e.count >= e.cfg.Warmup && e.count > 0 {
			e.initMarkers()
		}
		if e.count == 0 {
			e.buf = nil
		}
		return e
	}
	copy(e.heights[:], snap.Heights)
	for i := 0; i < markerCount && i < len(snap.Pos); i++ {
		e.pos[i] = float64(snap.Pos[i])
	}
	copy(e.desired[:], snap.Desired)
	if len(snap.Incr) == markerCount {
		copy(e.incr[:], snap.Incr)
	}
	return e
}
