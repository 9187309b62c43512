// Package mesh implements the normalized time grid used by the transcription.
//
// A Mesh is an immutable, strictly increasing sequence of fractions in
// [0, 1] starting at exactly 0 and ending at exactly 1. Refinement returns a
// new mesh that contains every point of the original.
package mesh

import (
	"container/heap"
	"math"
	"slices"

	"github.com/san-kum/trajopt/internal/dynamo"
)

const (
	// DefaultMaxPoints caps the size of a refined mesh.
	DefaultMaxPoints = 1000

	// DefaultOrder is the local error order assumed when predicting the
	// error of a bisected interval (trapezoidal collocation).
	DefaultOrder = 2
)

type Mesh struct {
	points []float64
}

// Build validates fracs and returns a mesh over a private copy of them.
func Build(fracs []float64) (*Mesh, error) {
	if len(fracs) < 2 {
		return nil, dynamo.Configf("mesh", "need at least 2 points, got %d", len(fracs))
	}
	if fracs[0] != 0 {
		return nil, dynamo.Configf("mesh", "first point must be 0, got %g", fracs[0])
	}
	if fracs[len(fracs)-1] != 1 {
		return nil, dynamo.Configf("mesh", "last point must be 1, got %g", fracs[len(fracs)-1])
	}
	for i := 1; i < len(fracs); i++ {
		if math.IsNaN(fracs[i]) || fracs[i] <= fracs[i-1] {
			return nil, dynamo.Configf("mesh", "point %d (%g) does not increase past %g", i, fracs[i], fracs[i-1])
		}
	}

	pts := make([]float64, len(fracs))
	copy(pts, fracs)
	return &Mesh{points: pts}, nil
}

// Uniform returns n equally spaced points.
func Uniform(n int) (*Mesh, error) {
	if n < 2 {
		return nil, dynamo.Configf("mesh", "uniform mesh needs at least 2 points, got %d", n)
	}
	pts := make([]float64, n)
	for i := range pts {
		pts[i] = float64(i) / float64(n-1)
	}
	pts[n-1] = 1
	return &Mesh{points: pts}, nil
}

// MustUniform is like Uniform but panics if n < 2. It simplifies
// initialization of meshes with a constant size.
func MustUniform(n int) *Mesh {
	m, err := Uniform(n)
	if err != nil {
		panic(err)
	}
	return m
}

// Len returns the number of points (N+1).
func (m *Mesh) Len() int { return len(m.points) }

// Intervals returns the number of intervals (N).
func (m *Mesh) Intervals() int { return len(m.points) - 1 }

// At returns the k-th normalized time.
func (m *Mesh) At(k int) float64 { return m.points[k] }

// Width returns the normalized width of interval k.
func (m *Mesh) Width(k int) float64 { return m.points[k+1] - m.points[k] }

// Points returns a copy of the normalized times.
func (m *Mesh) Points() []float64 {
	out := make([]float64, len(m.points))
	copy(out, m.points)
	return out
}

// Contains reports whether every point of other is also a point of m.
func (m *Mesh) Contains(other *Mesh) bool {
	i := 0
	for _, p := range other.points {
		for i < len(m.points) && m.points[i] < p {
			i++
		}
		if i == len(m.points) || m.points[i] != p {
			return false
		}
	}
	return true
}

// Refine bisects intervals whose estimated error exceeds tol, worst first.
// A bisected interval's halves are predicted to carry err/2^(order+1) each
// and are bisected again while still above tol. Refinement stops when every
// predicted error is within tol or the mesh reaches the maximum point
// count. Intervals already within tol are never touched.
func (m *Mesh) Refine(errs []float64, tol float64, opts ...Option) (*Mesh, error) {
	o, err := gatherOptions(opts...)
	if err != nil {
		return nil, err
	}
	if len(errs) != m.Intervals() {
		return nil, dynamo.Configf("mesh", "have %d error estimates for %d intervals", len(errs), m.Intervals())
	}
	if !(tol > 0) {
		return nil, dynamo.Configf("mesh", "refinement tolerance must be positive, got %g", tol)
	}

	shrink := math.Pow(2, float64(o.order+1))

	q := make(intervalQueue, 0, len(errs))
	for k, e := range errs {
		if math.IsNaN(e) {
			e = math.Inf(1)
		}
		q = append(q, &interval{lo: m.points[k], hi: m.points[k+1], err: e, seq: k})
	}
	heap.Init(&q)

	seq := len(errs)
	count := m.Len()
	var done []*interval
	for q.Len() > 0 {
		worst := q[0]
		if worst.err <= tol || count >= o.maxPoints {
			break
		}
		heap.Pop(&q)
		mid := 0.5 * (worst.lo + worst.hi)
		if mid <= worst.lo || mid >= worst.hi {
			// Interval cannot be split in floating point.
			done = append(done, worst)
			continue
		}
		e := worst.err / shrink
		heap.Push(&q, &interval{lo: worst.lo, hi: mid, err: e, seq: seq})
		heap.Push(&q, &interval{lo: mid, hi: worst.hi, err: e, seq: seq + 1})
		seq += 2
		count++
	}

	pts := make([]float64, 0, count)
	pts = append(pts, 0)
	seen := map[float64]bool{0: true}
	for _, iv := range append(q, done...) {
		for _, p := range []float64{iv.lo, iv.hi} {
			if !seen[p] {
				seen[p] = true
				pts = append(pts, p)
			}
		}
	}
	slices.Sort(pts)
	return &Mesh{points: pts}, nil
}

type interval struct {
	lo, hi float64
	err    float64
	seq    int
}

// intervalQueue is a max-heap on error; ties resolve by creation order so
// refinement is deterministic.
type intervalQueue []*interval

func (q intervalQueue) Len() int { return len(q) }
func (q intervalQueue) Less(i, j int) bool {
	if q[i].err != q[j].err {
		return q[i].err > q[j].err
	}
	return q[i].seq < q[j].seq
}
func (q intervalQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *intervalQueue) Push(x any)   { *q = append(*q, x.(*interval)) }
func (q *intervalQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
