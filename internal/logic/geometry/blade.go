package geometry

import (
	"fmt"
	"math"

	"github.com/cjeanneret/povfan/internal/raster"
)

// Default blade geometry, in cm.
const (
	DefaultLength       = 20.0
	DefaultMarginCenter = 1.0
	DefaultMarginEnd    = 3.0
	DefaultMinSpacing   = 0.5
	DefaultRotationHz   = 24.0
)

// Point is an LED position in blade space (cm). +x is to the right, +y up.
type Point struct {
	X, Y float64
}

// Params holds the user-defined parameters of a single blade.
type Params struct {
	LEDCount     int
	Length       float64 // physical blade length (cm)
	MarginCenter float64 // empty space between the hub and the first LED (cm)
	MarginEnd    float64 // empty space after the last usable position (cm)
	MinSpacing   float64 // LED pitch when Justify is false (cm)
	Justify      bool    // spread LEDs evenly over the usable length
	RotationHz   float64 // rotations per second; positive is counter-clockwise
	InitialAngle float64 // degrees, 0 on the right like trigonometry
}

// DefaultParams returns the default geometry for a blade carrying n LEDs.
func DefaultParams(n int) Params {
	return Params{
		LEDCount:     n,
		Length:       DefaultLength,
		MarginCenter: DefaultMarginCenter,
		MarginEnd:    DefaultMarginEnd,
		MinSpacing:   DefaultMinSpacing,
		Justify:      true,
		RotationHz:   DefaultRotationHz,
	}
}

// UsableLength is the part of the blade LEDs may occupy.
func (p Params) UsableLength() float64 {
	return p.Length - (p.MarginCenter + p.MarginEnd)
}

// Blade is one radial arm of the fan. It owns the radial layout of its LEDs,
// its current angle and the color buffer the fan writes into.
//
// A Blade is not safe for concurrent use; each blade must be driven by a
// single goroutine at a time.
type Blade struct {
	params Params

	spacing float64
	radii   []float64 // R in polar coordinates, relative to the hub

	angle     float64 // Θ in polar coordinates, always in [0, 360)
	rotations float64 // signed total rotations since construction or Reset

	pos    []Point
	colors []raster.RGB
}

// NewBlade validates p and builds a blade positioned at its initial angle.
func NewBlade(p Params) (*Blade, error) {
	if math.IsNaN(p.InitialAngle) || math.IsInf(p.InitialAngle, 0) {
		return nil, fmt.Errorf("%w: initial angle must be finite, got %g", ErrInvalidParameter, p.InitialAngle)
	}
	if err := checkRate(p.RotationHz); err != nil {
		return nil, err
	}
	p.InitialAngle = NormalizeDeg(p.InitialAngle)

	b := &Blade{params: p, angle: p.InitialAngle}
	if err := b.ConfigureLayout(); err != nil {
		return nil, err
	}
	return b, nil
}

func checkRate(hz float64) error {
	if math.IsNaN(hz) || math.IsInf(hz, 0) {
		return fmt.Errorf("%w: rotation rate must be finite, got %g", ErrInvalidParameter, hz)
	}
	return nil
}

func checkLayout(p Params) (spacing float64, err error) {
	if p.LEDCount < 1 {
		return 0, fmt.Errorf("%w: LED count must be >= 1, got %d", ErrInvalidParameter, p.LEDCount)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"length", p.Length},
		{"center margin", p.MarginCenter},
		{"end margin", p.MarginEnd},
		{"min spacing", p.MinSpacing},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return 0, fmt.Errorf("%w: %s must be finite, got %g", ErrInvalidParameter, f.name, f.v)
		}
	}
	if p.MarginCenter < 0 || p.MarginEnd < 0 {
		return 0, fmt.Errorf("%w: margins must be >= 0, got %g and %g", ErrInvalidParameter, p.MarginCenter, p.MarginEnd)
	}

	area := p.UsableLength()
	if area <= 0 {
		return 0, fmt.Errorf("%w: usable blade length must be > 0, got %g", ErrInvalidParameter, area)
	}
	if p.Justify {
		spacing = area / float64(p.LEDCount)
	} else {
		spacing = p.MinSpacing
	}
	if spacing <= 0 {
		return 0, fmt.Errorf("%w: LED spacing must be > 0, got %g", ErrInvalidParameter, spacing)
	}
	return spacing, nil
}

// ConfigureLayout recomputes the LED spacing and radial distances from the
// current parameters and clears the color buffer.
func (b *Blade) ConfigureLayout() error {
	spacing, err := checkLayout(b.params)
	if err != nil {
		return err
	}
	b.spacing = spacing

	// Same sequence as a half-open arange: start + k*spacing < start + area.
	start := b.params.MarginCenter
	area := b.params.UsableLength()
	count := int(math.Ceil(area / spacing))
	if count > b.params.LEDCount {
		count = b.params.LEDCount
	}
	b.radii = make([]float64, count)
	for k := range b.radii {
		b.radii[k] = start + float64(k)*spacing
	}

	b.ResetColors()
	b.pos = b.PositionAtAngle(b.angle)
	return nil
}

// Advance rotates the blade by the angle swept during dt seconds and returns
// the new position of every LED.
func (b *Blade) Advance(dt float64) []Point {
	rotations := dt * b.params.RotationHz
	delta := floorMod(rotations*360.0, 360.0)
	b.angle = NormalizeDeg(b.angle + delta)
	b.rotations += rotations

	b.pos = b.PositionAtAngle(b.angle)
	return b.pos
}

// PositionAtAngle returns the position of every LED with the blade at angle
// (degrees). The blade itself is not modified.
func (b *Blade) PositionAtAngle(angle float64) []Point {
	rad := Rads(angle)
	cos, sin := math.Cos(rad), math.Sin(rad)
	pts := make([]Point, len(b.radii))
	for i, r := range b.radii {
		pts[i] = Point{X: Round2(r * cos), Y: Round2(r * sin)}
	}
	return pts
}

// ResetColors turns every LED off.
func (b *Blade) ResetColors() {
	if len(b.colors) != b.params.LEDCount {
		b.colors = make([]raster.RGB, b.params.LEDCount)
		return
	}
	for i := range b.colors {
		b.colors[i] = raster.Off
	}
}

// Reset puts the blade back at its initial angle and clears the rotation
// counter.
func (b *Blade) Reset() {
	b.angle = b.params.InitialAngle
	b.rotations = 0
	b.pos = b.PositionAtAngle(b.angle)
}

// SetColor sets the color of LED i.
func (b *Blade) SetColor(i int, c raster.RGB) {
	b.colors[i] = c
}

// SetLEDCount changes the number of LEDs and recomputes the layout.
func (b *Blade) SetLEDCount(n int) error {
	return b.update(func(p *Params) { p.LEDCount = n })
}

// SetMinSpacing changes the packed LED pitch and recomputes the layout.
func (b *Blade) SetMinSpacing(s float64) error {
	if !(s > 0) {
		return fmt.Errorf("%w: spacing must be > 0, got %g", ErrInvalidParameter, s)
	}
	return b.update(func(p *Params) { p.MinSpacing = s })
}

// SetJustify switches between evenly spread and packed layouts.
func (b *Blade) SetJustify(justify bool) error {
	return b.update(func(p *Params) { p.Justify = justify })
}

// SetRotationRate changes the rotation rate in rotations per second.
func (b *Blade) SetRotationRate(hz float64) error {
	if err := checkRate(hz); err != nil {
		return err
	}
	return b.update(func(p *Params) { p.RotationHz = hz })
}

// SetParams replaces every parameter at once. The current angle is kept; the
// initial angle is normalized.
func (b *Blade) SetParams(p Params) error {
	if err := checkRate(p.RotationHz); err != nil {
		return err
	}
	if math.IsNaN(p.InitialAngle) || math.IsInf(p.InitialAngle, 0) {
		return fmt.Errorf("%w: initial angle must be finite, got %g", ErrInvalidParameter, p.InitialAngle)
	}
	p.InitialAngle = NormalizeDeg(p.InitialAngle)
	return b.update(func(next *Params) { *next = p })
}

// update applies fn to a copy of the parameters and commits it only when the
// resulting layout is valid.
func (b *Blade) update(fn func(*Params)) error {
	next := b.params
	fn(&next)
	if _, err := checkLayout(next); err != nil {
		return err
	}
	b.params = next
	return b.ConfigureLayout()
}

// Params returns a copy of the blade parameters.
func (b *Blade) Params() Params { return b.params }

// LEDCount returns the number of LEDs of the blade.
func (b *Blade) LEDCount() int { return b.params.LEDCount }

// Spacing returns the current LED pitch (cm).
func (b *Blade) Spacing() float64 { return b.spacing }

// Radii returns a copy of the radial distance of every LED (cm).
func (b *Blade) Radii() []float64 {
	return append([]float64(nil), b.radii...)
}

// MaxRadius returns the distance of the outermost LED (cm).
func (b *Blade) MaxRadius() float64 {
	return b.radii[len(b.radii)-1]
}

// Angle returns the current angle in degrees, in [0, 360).
func (b *Blade) Angle() float64 { return b.angle }

// InitialAngle returns the angle of the blade at rest, in [0, 360).
func (b *Blade) InitialAngle() float64 { return b.params.InitialAngle }

// Rotations returns the signed number of rotations since construction or the
// last Reset.
func (b *Blade) Rotations() float64 { return b.rotations }

// Positions returns the LED positions computed by the last update.
func (b *Blade) Positions() []Point { return b.pos }

// Colors returns the LED color buffer. It is owned by the blade and is
// rewritten by the next sample.
func (b *Blade) Colors() []raster.RGB { return b.colors }
