// Package simplify reduces a series of samples with the Douglas-Peucker line
// simplification algorithm, treating each sample as the point
// (timestamp, value).
package simplify

import (
	"math"
	"sort"

	"github.com/vjranagit/historian/pkg/types"
)

// toleranceSearchSteps bounds the bisection used to meet a target point count
const toleranceSearchSteps = 48

// Options control simplification
type Options struct {
	// Tolerance is the maximum distance a dropped point may lie from the kept line
	Tolerance float64
	// TargetPointCount, when positive, searches for the tolerance that keeps at
	// most this many points and overrides Tolerance
	TargetPointCount int
	// HighQuality skips the radial distance pre-pass
	HighQuality bool
	// PrePostProcess sets aside values that cannot be simplified (NaN, Inf,
	// alphanumeric) and merges them back afterwards
	PrePostProcess bool
}

// Validate checks that the options can produce a result
func (o Options) Validate() error {
	if o.Tolerance < 0 || math.IsNaN(o.Tolerance) {
		return types.ConfigError("simplifyTolerance", o.Tolerance, "tolerance must not be negative")
	}
	if o.Tolerance == 0 && o.TargetPointCount <= 0 {
		return types.ConfigError("simplifyTarget", o.TargetPointCount, "a tolerance or a positive target point count is required")
	}
	return nil
}

type point struct {
	x, y float64
}

// Simplify returns the retained samples in their original order. The input
// is not modified.
func Simplify(samples []types.Sample, opts Options) ([]types.Sample, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var keep, aside []types.Sample
	keep = make([]types.Sample, 0, len(samples))
	for _, s := range samples {
		f, ok := s.Value.Float()
		if ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
			keep = append(keep, s)
			continue
		}
		if !opts.PrePostProcess {
			if !ok {
				return nil, &types.Error{
					Message:       "cannot simplify value",
					Kind:          types.UnsupportedType,
					PropertyName:  "kind",
					PropertyValue: s.Value.Kind().String(),
				}
			}
			// NaN and Inf take part as is
			keep = append(keep, s)
			continue
		}
		aside = append(aside, s)
	}

	var out []types.Sample
	if opts.TargetPointCount > 0 {
		out = toTarget(keep, opts.TargetPointCount, opts.HighQuality)
	} else {
		out = simplify(keep, opts.Tolerance, opts.HighQuality)
	}

	if len(aside) == 0 {
		return out, nil
	}
	out = append(out, aside...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, nil
}

// toTarget bisects the tolerance to keep at most target points
func toTarget(samples []types.Sample, target int, highQuality bool) []types.Sample {
	if len(samples) <= target {
		return append([]types.Sample(nil), samples...)
	}
	lo, hi := 0.0, extent(samples)
	best := simplify(samples, hi, highQuality)
	for i := 0; i < toleranceSearchSteps; i++ {
		mid := (lo + hi) / 2
		res := simplify(samples, mid, highQuality)
		if len(res) <= target {
			best = res
			hi = mid
		} else {
			lo = mid
		}
	}
	return best
}

// extent is a tolerance large enough to reduce any input to its endpoints
func extent(samples []types.Sample) float64 {
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		f, _ := s.Value.Float()
		minY = math.Min(minY, f)
		maxY = math.Max(maxY, f)
	}
	dx := float64(samples[len(samples)-1].Timestamp - samples[0].Timestamp)
	dy := maxY - minY
	return math.Hypot(dx, dy) + 1
}

func simplify(samples []types.Sample, tolerance float64, highQuality bool) []types.Sample {
	if len(samples) <= 2 {
		return append([]types.Sample(nil), samples...)
	}
	sqTolerance := tolerance * tolerance

	idx := make([]int, len(samples))
	for i := range idx {
		idx[i] = i
	}
	if !highQuality {
		idx = radialDistance(samples, idx, sqTolerance)
	}
	idx = douglasPeucker(samples, idx, sqTolerance)

	out := make([]types.Sample, len(idx))
	for i, j := range idx {
		out[i] = samples[j]
	}
	return out
}

func pointOf(s types.Sample) point {
	f, _ := s.Value.Float()
	return point{x: float64(s.Timestamp), y: f}
}

// radialDistance drops points closer than the tolerance to the last kept one
func radialDistance(samples []types.Sample, idx []int, sqTolerance float64) []int {
	kept := []int{idx[0]}
	prev := pointOf(samples[idx[0]])
	last := idx[len(idx)-1]
	for _, i := range idx[1:] {
		p := pointOf(samples[i])
		if sqDist(p, prev) > sqTolerance {
			kept = append(kept, i)
			prev = p
		}
	}
	if kept[len(kept)-1] != last {
		kept = append(kept, last)
	}
	return kept
}

// douglasPeucker keeps, recursively, the point farthest from the chord
// between the current endpoints while it exceeds the tolerance
func douglasPeucker(samples []types.Sample, idx []int, sqTolerance float64) []int {
	n := len(idx)
	if n <= 2 {
		return idx
	}
	markers := make([]bool, n)
	markers[0] = true
	markers[n-1] = true

	type span struct{ first, last int }
	stack := []span{{0, n - 1}}
	for len(stack) > 0 {
		sp := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		a := pointOf(samples[idx[sp.first]])
		b := pointOf(samples[idx[sp.last]])
		maxSqDist := sqTolerance
		index := -1
		for i := sp.first + 1; i < sp.last; i++ {
			d := sqSegDist(pointOf(samples[idx[i]]), a, b)
			if d > maxSqDist {
				index = i
				maxSqDist = d
			}
		}
		if index >= 0 {
			markers[index] = true
			stack = append(stack, span{sp.first, index}, span{index, sp.last})
		}
	}

	kept := make([]int, 0, n)
	for i, m := range markers {
		if m {
			kept = append(kept, idx[i])
		}
	}
	return kept
}

func sqDist(p1, p2 point) float64 {
	dx := p1.x - p2.x
	dy := p1.y - p2.y
	return dx*dx + dy*dy
}

// sqSegDist is the squared distance from p to the segment a-b
func sqSegDist(p, a, b point) float64 {
	x, y := a.x, a.y
	dx, dy := b.x-x, b.y-y
	if dx != 0 || dy != 0 {
		t := ((p.x-x)*dx + (p.y-y)*dy) / (dx*dx + dy*dy)
		if t > 1 {
			x, y = b.x, b.y
		} else if t > 0 {
			x += dx * t
			y += dy * t
		}
	}
	dx = p.x - x
	dy = p.y - y
	return dx*dx + dy*dy
}
