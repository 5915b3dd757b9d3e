package geometry

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/cjeanneret/povfan/internal/raster"
)

// FitMode selects how the rectangular image is scaled onto the circular area
// swept by the blades.
type FitMode int

const (
	// Inscribe keeps the whole image inside the fan; the image corners touch
	// the outermost LED circle.
	Inscribe FitMode = iota
	// CircumTB keeps the fan inside the image with the top and bottom edges
	// touching the LED circle. Left and right may fall outside the fan.
	CircumTB
	// CircumLR keeps the fan inside the image with the left and right edges
	// touching the LED circle.
	CircumLR
)

var fitModeNames = map[FitMode]string{
	Inscribe: "inscribe",
	CircumTB: "circum_tb",
	CircumLR: "circum_lr",
}

// FitModes lists every supported mode.
func FitModes() []FitMode {
	return []FitMode{Inscribe, CircumTB, CircumLR}
}

func (m FitMode) String() string {
	if name, ok := fitModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("FitMode(%d)", int(m))
}

// ParseFitMode parses a case-insensitive mode name.
func ParseFitMode(s string) (FitMode, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for _, m := range FitModes() {
		if fitModeNames[m] == want {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown fitting mode %q (want inscribe, circum_tb or circum_lr)", ErrInvalidConfiguration, s)
}

// MarshalText implements encoding.TextMarshaler.
func (m FitMode) MarshalText() ([]byte, error) {
	if _, ok := fitModeNames[m]; !ok {
		return nil, fmt.Errorf("%w: unknown fitting mode %d", ErrInvalidConfiguration, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *FitMode) UnmarshalText(text []byte) error {
	v, err := ParseFitMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// extents returns the blade-space half extents (cm) that map onto the image
// half width and half height.
func (m FitMode) extents(w, h float64, ref *Blade) (maxVx, maxVy float64, err error) {
	switch m {
	case Inscribe:
		// Angle that reaches the top right corner of the image.
		xs, ys := split(ref.PositionAtAngle(Degs(math.Atan(h / w))))
		maxVx, maxVy = floats.Max(xs), floats.Max(ys)
	case CircumTB:
		_, ys := split(ref.PositionAtAngle(90))
		maxVy = floats.Max(ys)
		maxVx = (w / h) * maxVy
	case CircumLR:
		xs, _ := split(ref.PositionAtAngle(0))
		maxVx = floats.Max(xs)
		maxVy = (h / w) * maxVx
	default:
		return 0, 0, fmt.Errorf("%w: unknown fitting mode %d", ErrInvalidConfiguration, int(m))
	}
	if !(maxVx > 0) || !(maxVy > 0) {
		return 0, 0, fmt.Errorf("%w: reference blade has no radial extent (%g, %g cm)", ErrInvalidParameter, maxVx, maxVy)
	}
	return maxVx, maxVy, nil
}

func split(pts []Point) (xs, ys []float64) {
	xs = make([]float64, len(pts))
	ys = make([]float64, len(pts))
	for i, p := range pts {
		xs[i], ys[i] = p.X, p.Y
	}
	return xs, ys
}

// Pixel is an image index. It may lie outside the image.
type Pixel struct {
	Col, Row int
}

// Imager converts blade-space positions (cm) to image pixel indices.
// An Imager is read-only once built and safe for concurrent use.
type Imager struct {
	img  *raster.Image
	mode FitMode

	cfX float64 // pixels per cm, x axis
	cfY float64 // pixels per cm, y axis; negative since rows grow downward
}

// NewImager derives the conversion factors for img from the layout of the
// reference blade ref.
func NewImager(img *raster.Image, ref *Blade, mode FitMode) (*Imager, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("%w: imager needs a reference blade", ErrInvalidParameter)
	}

	w, h := float64(img.Width), float64(img.Height)
	maxVx, maxVy, err := mode.extents(w, h, ref)
	if err != nil {
		return nil, err
	}

	return &Imager{
		img:  img,
		mode: mode,
		cfX:  w / maxVx / 2,  // halved since positions are relative to the image center
		cfY:  -h / maxVy / 2, // image rows are indexed top to bottom
	}, nil
}

// Factors returns the x and y conversion factors in pixels per cm.
func (im *Imager) Factors() (cfX, cfY float64) {
	return im.cfX, im.cfY
}

// Mode returns the fitting mode.
func (im *Imager) Mode() FitMode { return im.mode }

// Image returns the source image.
func (im *Imager) Image() *raster.Image { return im.img }

// MapToPixel converts a position in cm to an image index. The fractional
// part is truncated toward zero and the result is not clamped: indices outside
// the image mean the LED is off.
func (im *Imager) MapToPixel(x, y float64) (col, row int) {
	col = int(im.cfX*x + float64(im.img.Width)/2)
	row = int(im.cfY*y + float64(im.img.Height)/2)
	return col, row
}

// MapAll maps every point to its pixel index.
func (im *Imager) MapAll(pts []Point) []Pixel {
	px := make([]Pixel, len(pts))
	for i, p := range pts {
		px[i].Col, px[i].Row = im.MapToPixel(p.X, p.Y)
	}
	return px
}

// Contains reports whether an index lies inside the image.
func (im *Imager) Contains(col, row int) bool {
	return im.img.Contains(col, row)
}
