// internal/browser/humanoid/trajectory_test.go
package humanoid

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathToEndpointsAndLength(t *testing.T) {
	h := newTestHumanoid(t, newMockExecutor())
	start := Vector2D{X: 10, Y: 20}
	end := Vector2D{X: 640, Y: 410}

	path := h.PathTo(start, end, true)
	require.Equal(t, DefaultCurveSteps, path.Len())

	points := slices.Collect(path.All())
	require.Len(t, points, DefaultCurveSteps)
	assert.InDelta(t, start.X, points[0].X, 1e-9)
	assert.InDelta(t, start.Y, points[0].Y, 1e-9)
	assert.InDelta(t, end.X, points[len(points)-1].X, 1e-9)
	assert.InDelta(t, end.Y, points[len(points)-1].Y, 1e-9)

	// The control point lies on the segment, so every point stays within the bounding box.
	for _, p := range points {
		assert.True(t, p.X >= start.X-1e-9 && p.X <= end.X+1e-9, "x out of range: %v", p)
		assert.True(t, p.Y >= start.Y-1e-9 && p.Y <= end.Y+1e-9, "y out of range: %v", p)
	}
}

func TestPathToWithoutCurve(t *testing.T) {
	h := newTestHumanoid(t, newMockExecutor())
	end := Vector2D{X: 5, Y: 5}

	points := slices.Collect(h.PathTo(Vector2D{}, end, false).All())
	assert.Equal(t, []Vector2D{end}, points)
}

func TestPathToDeterministicWithSeed(t *testing.T) {
	start, end := Vector2D{X: 0, Y: 0}, Vector2D{X: 300, Y: 150}

	a := slices.Collect(newPath(start, end, true, 20, rand.New(rand.NewSource(99))).All())
	b := slices.Collect(newPath(start, end, true, 20, rand.New(rand.NewSource(99))).All())
	c := slices.Collect(newPath(start, end, true, 20, rand.New(rand.NewSource(100))).All())

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "different seeds place the control point differently")
}

func TestPathIsSingleUse(t *testing.T) {
	path := newPath(Vector2D{}, Vector2D{X: 100}, true, 5, rand.New(rand.NewSource(1)))

	_, ok := path.Next()
	require.True(t, ok)
	assert.Equal(t, 4, path.Remaining())

	rest := slices.Collect(path.All())
	assert.Len(t, rest, 4)

	_, ok = path.Next()
	assert.False(t, ok)
	assert.Empty(t, slices.Collect(path.All()), "an exhausted path yields nothing")
}

func TestPathEarlyBreak(t *testing.T) {
	path := newPath(Vector2D{}, Vector2D{X: 100}, true, 10, rand.New(rand.NewSource(1)))
	n := 0
	for range path.All() {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 7, path.Remaining())
}

func TestPathCustomSteps(t *testing.T) {
	path := newPath(Vector2D{}, Vector2D{X: 1, Y: 1}, true, 7, rand.New(rand.NewSource(3)))
	assert.Len(t, slices.Collect(path.All()), 7)

	fallback := newPath(Vector2D{}, Vector2D{X: 1, Y: 1}, true, 1, rand.New(rand.NewSource(3)))
	assert.Equal(t, DefaultCurveSteps, fallback.Len())
}
