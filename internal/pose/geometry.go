package pose

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// AngleBetweenThreePoints returns the angle in degrees between the vectors
// center->p1 and center->p2, in [0, 180]. It returns NaN when either vector
// has zero length; every comparison against NaN is false, so a degenerate
// frame never satisfies a threshold.
func AngleBetweenThreePoints(center, p1, p2 r2.Vec) float64 {
	v1 := r2.Sub(p1, center)
	v2 := r2.Sub(p2, center)
	mag := r2.Norm(v1) * r2.Norm(v2)
	if mag == 0 {
		return math.NaN()
	}
	cos := r2.Dot(v1, v2) / mag
	// rounding can push |cos| slightly past 1 for collinear points
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}

// DistanceBetweenPoints is the Euclidean distance in normalized image
// coordinates.
func DistanceBetweenPoints(a, b r2.Vec) float64 {
	return r2.Norm(r2.Sub(b, a))
}

// VerticalGap is |a.y - b.y|.
func VerticalGap(a, b r2.Vec) float64 {
	return math.Abs(a.Y - b.Y)
}
