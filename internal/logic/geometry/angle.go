package geometry

import "math"

// Rads converts degrees to radians.
func Rads(deg float64) float64 {
	return deg * (2.0 * math.Pi / 360.0)
}

// Degs converts radians to degrees.
func Degs(rad float64) float64 {
	return rad * (360.0 / (2.0 * math.Pi))
}

// floorMod returns a mod m with the sign of m (floored modulo).
func floorMod(a, m float64) float64 {
	r := math.Mod(a, m)
	if r < 0 {
		r += m
	}
	return r
}

// NormalizeDeg wraps an angle in degrees into [0, 360).
func NormalizeDeg(deg float64) float64 {
	a := floorMod(deg, 360.0)
	// math.Mod of a tiny negative value can round back up to exactly 360
	if a >= 360.0 {
		a = 0
	}
	return a
}

// Round2 rounds v to hundredths (0.01 cm = 0.1 mm precision), ties to even.
func Round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}
