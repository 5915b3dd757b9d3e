package fan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/povfan/internal/debug"
	"github.com/cjeanneret/povfan/internal/logic/geometry"
	"github.com/cjeanneret/povfan/internal/raster"
)

// Options configures an Assembly.
type Options struct {
	LEDCount   int              // LEDs per blade
	BladeCount int              // blades, evenly spaced over 360°
	RotationHz float64          // rotations per second; sign gives direction
	Mode       geometry.FitMode // how the image is fitted onto the fan

	// Blade is the geometry shared by every blade. LEDCount, RotationHz and
	// InitialAngle are overridden. A zero Length selects the defaults.
	Blade geometry.Params

	// Image is used as-is when set; otherwise ImagePath is decoded.
	Image     *raster.Image
	ImagePath string

	// Parallel samples blades concurrently.
	Parallel bool

	Logger *slog.Logger
}

// Assembly is a fan: a set of blades sharing one layout plus the imager that
// maps their LEDs onto the source image.
//
// Configuration setters and sampling may be called from different
// goroutines. Setters wait for in-flight samples; each blade is sampled by
// one goroutine at a time.
type Assembly struct {
	mu sync.RWMutex // guards everything below; write-held by setters

	bladeMu []sync.Mutex
	blades  []*geometry.Blade

	mode     geometry.FitMode
	img      *raster.Image
	imgErr   error
	imager   *geometry.Imager
	parallel bool

	logger *slog.Logger
}

// BladeSample is the state of one blade after a sample.
type BladeSample struct {
	Index     int
	Angle     float64          // degrees, [0, 360)
	Rotations float64          // signed rotations since construction or reset
	Positions []geometry.Point // cm, one per placed LED
	Pixels    []geometry.Pixel // image index of each placed LED
	InBounds  []bool           // whether Pixels[i] lies inside the image
	Colors    []raster.RGB     // one per LED; LEDs outside the image are off
}

// Lit returns the number of LEDs that mapped inside the image.
func (s BladeSample) Lit() int {
	n := 0
	for _, ok := range s.InBounds {
		if ok {
			n++
		}
	}
	return n
}

// Frame is every blade sampled at the same time value.
type Frame struct {
	T      float64
	Blades []BladeSample
}

// New builds the blades and the imager. A missing or undecodable image does
// not fail construction: the error is kept (see ImageErr) and every sample
// fails with raster.ErrImageLoad until SetImage succeeds.
func New(opts Options) (*Assembly, error) {
	if opts.BladeCount < 1 {
		return nil, fmt.Errorf("%w: blade count must be >= 1, got %d", geometry.ErrInvalidParameter, opts.BladeCount)
	}
	if _, err := opts.Mode.MarshalText(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = debug.Logger()
	}

	a := &Assembly{
		mode:     opts.Mode,
		parallel: opts.Parallel,
		logger:   logger,
	}

	tmpl := opts.Blade
	if tmpl.Length == 0 {
		tmpl = geometry.DefaultParams(opts.LEDCount)
	}
	a.blades = make([]*geometry.Blade, opts.BladeCount)
	a.bladeMu = make([]sync.Mutex, opts.BladeCount)
	for i := range a.blades {
		p := tmpl
		p.LEDCount = opts.LEDCount
		p.RotationHz = opts.RotationHz
		// Radial symmetry
		p.InitialAngle = float64(i) * 360.0 / float64(opts.BladeCount)

		b, err := geometry.NewBlade(p)
		if err != nil {
			return nil, fmt.Errorf("blade %d: %w", i, err)
		}
		a.blades[i] = b
	}

	img := opts.Image
	if img == nil {
		var err error
		img, err = raster.Load(opts.ImagePath)
		if err != nil {
			a.imgErr = err
			logger.Warn("image not loaded; sampling disabled until an image is set",
				"path", opts.ImagePath, "err", err)
		}
	}
	if img != nil {
		if err := a.setImageLocked(img); err != nil {
			return nil, err
		}
	}

	b0 := a.blades[0]
	logger.Info("fan assembled",
		"blades", len(a.blades), "leds", b0.LEDCount(), "hz", opts.RotationHz,
		"mode", a.mode.String(), "spacing_cm", b0.Spacing(), "max_radius_cm", b0.MaxRadius())
	return a, nil
}

// setImageLocked installs img and rebuilds the imager. a.mu must be
// write-held (or a not yet shared).
func (a *Assembly) setImageLocked(img *raster.Image) error {
	im, err := geometry.NewImager(img, a.blades[0], a.mode)
	if err != nil {
		return err
	}
	a.img, a.imager, a.imgErr = img, im, nil

	cfX, cfY := im.Factors()
	a.logger.Log(context.Background(), debug.SlogVerbose, "imager ready",
		"width", img.Width, "height", img.Height, "aspect", img.AspectRatio(), "mode", a.mode.String(), "cf_x", cfX, "cf_y", cfY)
	return nil
}

// imageError reports why no sample can be taken. a.mu must be held.
func (a *Assembly) imageError() error {
	if a.imgErr != nil {
		return a.imgErr
	}
	return fmt.Errorf("%w: no image set", raster.ErrImageLoad)
}

// SampleAt advances blade i by t seconds and looks up the color of each of
// its LEDs.
func (a *Assembly) SampleAt(i int, t float64) (BladeSample, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if err := checkTime(t); err != nil {
		return BladeSample{}, err
	}
	if i < 0 || i >= len(a.blades) {
		return BladeSample{}, fmt.Errorf("%w: blade index %d out of range [0, %d)", geometry.ErrInvalidParameter, i, len(a.blades))
	}
	if a.imager == nil {
		return BladeSample{}, fmt.Errorf("blade %d: %w", i, a.imageError())
	}
	return a.sampleBlade(i, t), nil
}

// checkTime rejects time steps that would leave the blade angles undefined.
func checkTime(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("%w: time step must be finite, got %g", geometry.ErrInvalidParameter, t)
	}
	return nil
}

// sampleBlade requires a.mu read-held and a.imager set.
func (a *Assembly) sampleBlade(i int, t float64) BladeSample {
	a.bladeMu[i].Lock()
	defer a.bladeMu[i].Unlock()

	b := a.blades[i]
	b.ResetColors()
	pts := b.Advance(t)
	px := a.imager.MapAll(pts)
	mask := make([]bool, len(px))
	for k, p := range px {
		if a.imager.Contains(p.Col, p.Row) {
			mask[k] = true
			b.SetColor(k, a.img.At(p.Row, p.Col))
		}
	}

	return BladeSample{
		Index:     i,
		Angle:     b.Angle(),
		Rotations: b.Rotations(),
		Positions: append([]geometry.Point(nil), pts...),
		Pixels:    px,
		InBounds:  mask,
		Colors:    append([]raster.RGB(nil), b.Colors()...),
	}
}

// Sample advances every blade by t seconds. Blades are sampled concurrently
// when the assembly was built with Parallel. Blades that fail are left out of
// the frame and reported in the joined error.
func (a *Assembly) Sample(t float64) (Frame, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if err := checkTime(t); err != nil {
		return Frame{}, err
	}
	if a.imager == nil {
		return Frame{T: t}, a.imageError()
	}

	n := len(a.blades)
	results := make([]BladeSample, n)
	errs := make([]error, n)

	sample := func(i int) {
		defer func() {
			if r := recover(); r != nil {
				errs[i] = fmt.Errorf("blade %d: sample panicked: %v", i, r)
			}
		}()
		results[i] = a.sampleBlade(i, t)
	}

	if a.parallel && n > 1 {
		var g errgroup.Group
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i := 0; i < n; i++ {
			g.Go(func() error {
				sample(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := 0; i < n; i++ {
			sample(i)
		}
	}

	frame := Frame{T: t, Blades: make([]BladeSample, 0, n)}
	for i := range results {
		if errs[i] == nil {
			frame.Blades = append(frame.Blades, results[i])
		}
	}
	return frame, errors.Join(errs...)
}

// Reset returns every blade to its initial angle.
func (a *Assembly) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, b := range a.blades {
		b.Reset()
	}
}

// reconfigure applies fn to every blade and rebuilds the imager. On failure
// every blade gets its previous parameters back.
func (a *Assembly) reconfigure(what string, fn func(*geometry.Blade) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := make([]geometry.Params, len(a.blades))
	for i, b := range a.blades {
		prev[i] = b.Params()
	}
	rollback := func() {
		for i, b := range a.blades {
			_ = b.SetParams(prev[i])
		}
	}

	for i, b := range a.blades {
		if err := fn(b); err != nil {
			rollback()
			return fmt.Errorf("%s: blade %d: %w", what, i, err)
		}
	}
	if a.img != nil {
		if err := a.setImageLocked(a.img); err != nil {
			rollback()
			return fmt.Errorf("%s: %w", what, err)
		}
	}

	b0 := a.blades[0]
	a.logger.Log(context.Background(), debug.SlogLive, "fan reconfigured",
		"change", what, "leds", b0.LEDCount(), "spacing_cm", b0.Spacing(), "hz", b0.Params().RotationHz)
	return nil
}

// SetRotationRate changes the rotation rate of every blade.
func (a *Assembly) SetRotationRate(hz float64) error {
	return a.reconfigure("set rotation rate", func(b *geometry.Blade) error {
		return b.SetRotationRate(hz)
	})
}

// SetLEDCount changes the number of LEDs on every blade.
func (a *Assembly) SetLEDCount(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: LED count must be >= 1, got %d", geometry.ErrInvalidParameter, n)
	}
	return a.reconfigure("set LED count", func(b *geometry.Blade) error {
		return b.SetLEDCount(n)
	})
}

// SetSpacing changes the packed LED pitch (cm) of every blade.
func (a *Assembly) SetSpacing(s float64) error {
	if !(s > 0) {
		return fmt.Errorf("%w: spacing must be > 0, got %g", geometry.ErrInvalidParameter, s)
	}
	return a.reconfigure("set spacing", func(b *geometry.Blade) error {
		return b.SetMinSpacing(s)
	})
}

// SetJustify switches every blade between evenly spread and packed layouts.
func (a *Assembly) SetJustify(justify bool) error {
	return a.reconfigure("set justify", func(b *geometry.Blade) error {
		return b.SetJustify(justify)
	})
}

// SetMode changes the fitting mode and rebuilds the imager.
func (a *Assembly) SetMode(mode geometry.FitMode) error {
	if _, err := mode.MarshalText(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.mode
	a.mode = mode
	if a.img != nil {
		if err := a.setImageLocked(a.img); err != nil {
			a.mode = prev
			return fmt.Errorf("set mode: %w", err)
		}
	}
	return nil
}

// SetImage replaces the source image.
func (a *Assembly) SetImage(img *raster.Image) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.setImageLocked(img); err != nil {
		return fmt.Errorf("set image: %w", err)
	}
	return nil
}

// ImageErr returns the error that prevented the image from loading, if any.
func (a *Assembly) ImageErr() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.imgErr
}

// BladeCount returns the number of blades.
func (a *Assembly) BladeCount() int {
	return len(a.blades)
}

// Period returns the duration of one rotation in seconds; +Inf when the fan
// is stopped.
func (a *Assembly) Period() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	hz := a.blades[0].Params().RotationHz
	if hz == 0 {
		return math.Inf(1)
	}
	return 1 / math.Abs(hz)
}

// Settings is a read-only view of the current configuration.
type Settings struct {
	LEDCount     int              `json:"led_count"`
	BladeCount   int              `json:"blade_count"`
	RotationHz   float64          `json:"rotation_hz"`
	Mode         geometry.FitMode `json:"mode"`
	Justify      bool             `json:"justify"`
	MinSpacingCm float64          `json:"min_spacing_cm"`
	SpacingCm    float64          `json:"spacing_cm"`
	RadiiCm      []float64        `json:"radii_cm"`
	MaxRadiusCm  float64          `json:"max_radius_cm"`
	InitialAngle []float64        `json:"initial_angles_deg"`
	Parallel     bool             `json:"parallel"`

	ImageWidth  int     `json:"image_width,omitempty"`
	ImageHeight int     `json:"image_height,omitempty"`
	CfX         float64 `json:"cf_x,omitempty"`
	CfY         float64 `json:"cf_y,omitempty"`
	ImageError  string  `json:"image_error,omitempty"`
}

// Snapshot returns the current configuration.
func (a *Assembly) Snapshot() Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()

	b0 := a.blades[0]
	p := b0.Params()
	s := Settings{
		LEDCount:     p.LEDCount,
		BladeCount:   len(a.blades),
		RotationHz:   p.RotationHz,
		Mode:         a.mode,
		Justify:      p.Justify,
		MinSpacingCm: p.MinSpacing,
		SpacingCm:    b0.Spacing(),
		RadiiCm:      b0.Radii(),
		MaxRadiusCm:  b0.MaxRadius(),
		Parallel:     a.parallel,
	}
	for _, b := range a.blades {
		s.InitialAngle = append(s.InitialAngle, b.InitialAngle())
	}
	if a.imager != nil {
		s.ImageWidth, s.ImageHeight = a.img.Width, a.img.Height
		s.CfX, s.CfY = a.imager.Factors()
	}
	if a.imgErr != nil {
		s.ImageError = a.imgErr.Error()
	}
	return s
}
