// internal/browser/humanoid/trajectory.go
package humanoid

import (
	"iter"
	"math/rand"
)

// DefaultCurveSteps is the number of points in a curved path.
const DefaultCurveSteps = 20

// Path is a lazy, finite, single-use sequence of pointer positions. Points
// are computed as they are consumed; once exhausted it yields nothing more.
type Path struct {
	start, control, end Vector2D
	steps               int
	i                   int
}

// newPath builds a quadratic Bezier from start to end. The control point sits
// at start + (end-start)*r with r drawn from [0.3, 0.7), so the pointer
// accelerates and decelerates unevenly along the segment.
func newPath(start, end Vector2D, useCurve bool, steps int, rng *rand.Rand) *Path {
	if !useCurve {
		return &Path{start: end, control: end, end: end, steps: 1}
	}
	if steps < 2 {
		steps = DefaultCurveSteps
	}
	r := 0.3 + rng.Float64()*0.4
	return &Path{
		start:   start,
		control: start.Lerp(end, r),
		end:     end,
		steps:   steps,
	}
}

// Len is the total number of points the path yields.
func (p *Path) Len() int { return p.steps }

// Remaining is the number of points not yet consumed.
func (p *Path) Remaining() int { return p.steps - p.i }

// Next returns the next point, or false when the path is exhausted.
func (p *Path) Next() (Vector2D, bool) {
	if p.i >= p.steps {
		return Vector2D{}, false
	}
	i := p.i
	p.i++
	if p.steps == 1 || i == p.steps-1 {
		return p.end, true
	}
	if i == 0 {
		return p.start, true
	}
	t := float64(i) / float64(p.steps-1)
	omt := 1 - t
	// B(t) = (1-t)^2*P0 + 2(1-t)t*P1 + t^2*P2
	return p.start.Mul(omt * omt).Add(p.control.Mul(2 * omt * t)).Add(p.end.Mul(t * t)), true
}

// All consumes the path as an iterator.
func (p *Path) All() iter.Seq[Vector2D] {
	return func(yield func(Vector2D) bool) {
		for {
			pt, ok := p.Next()
			if !ok || !yield(pt) {
				return
			}
		}
	}
}
