package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/cjeanneret/povfan/internal/raster"
)

func newTestImage(t *testing.T, w, h int) *raster.Image {
	t.Helper()
	img, err := raster.Solid(w, h, raster.RGB{R: 128, G: 64, B: 32})
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func TestParseFitMode(t *testing.T) {
	cases := []struct {
		in   string
		want FitMode
	}{
		{"inscribe", Inscribe},
		{"INSCRIBE", Inscribe},
		{"circum_tb", CircumTB},
		{" Circum_TB ", CircumTB},
		{"CIRCUM_LR", CircumLR},
	}
	for _, tc := range cases {
		got, err := ParseFitMode(tc.in)
		if err != nil {
			t.Errorf("ParseFitMode(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseFitMode(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "inscribed", "circum", "tb"} {
		if _, err := ParseFitMode(bad); !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("ParseFitMode(%q) = %v, want ErrInvalidConfiguration", bad, err)
		}
	}
}

func TestFitMode_TextRoundTrip(t *testing.T) {
	for _, m := range FitModes() {
		text, err := m.MarshalText()
		if err != nil {
			t.Fatalf("%v: %v", m, err)
		}
		var got FitMode
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("%s: %v", text, err)
		}
		if got != m {
			t.Errorf("round trip %v -> %s -> %v", m, text, got)
		}
	}
	if _, err := FitMode(42).MarshalText(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("MarshalText(42) = %v, want ErrInvalidConfiguration", err)
	}
}

func TestNewImager_FactorSigns(t *testing.T) {
	b := newTestBlade(t, DefaultParams(10))
	for _, m := range FitModes() {
		im, err := NewImager(newTestImage(t, 160, 90), b, m)
		if err != nil {
			t.Fatalf("%v: %v", m, err)
		}
		cfX, cfY := im.Factors()
		if cfX <= 0 {
			t.Errorf("%v: cfX = %v, want > 0", m, cfX)
		}
		if cfY >= 0 {
			t.Errorf("%v: cfY = %v, want < 0", m, cfY)
		}
		if im.Mode() != m {
			t.Errorf("Mode() = %v, want %v", im.Mode(), m)
		}
	}
}

func TestImager_InscribeCornerMapsToEdge(t *testing.T) {
	const w, h = 200, 100
	b := newTestBlade(t, DefaultParams(4))
	im, err := NewImager(newTestImage(t, w, h), b, Inscribe)
	if err != nil {
		t.Fatal(err)
	}

	ref := Degs(math.Atan(float64(h) / float64(w)))
	pts := b.PositionAtAngle(ref)
	outer := pts[len(pts)-1]

	col, row := im.MapToPixel(outer.X, outer.Y)
	if col != w && col != w-1 {
		t.Errorf("outer LED col = %d, want %d or %d", col, w-1, w)
	}
	if row != 0 {
		t.Errorf("outer LED row = %d, want 0", row)
	}
}

func TestImager_CircumTBTopMapsToFirstRow(t *testing.T) {
	const w, h = 200, 100
	b := newTestBlade(t, DefaultParams(4))
	im, err := NewImager(newTestImage(t, w, h), b, CircumTB)
	if err != nil {
		t.Fatal(err)
	}

	cfX, cfY := im.Factors()
	// maxVy = 13 cm, maxVx = 2 * 13 cm
	if math.Abs(cfY-(-100.0/13/2)) > epsilon || math.Abs(cfX-(200.0/26/2)) > epsilon {
		t.Errorf("factors = (%v, %v)", cfX, cfY)
	}

	col, row := im.MapToPixel(0, 13)
	if row != 0 || col != w/2 {
		t.Errorf("top LED -> (%d, %d), want (%d, 0)", col, row, w/2)
	}
	col, row = im.MapToPixel(0, -13)
	if row != h && row != h-1 {
		t.Errorf("bottom LED row = %d, want %d or %d", row, h-1, h)
	}
	// The fan stays inside the image horizontally.
	col, _ = im.MapToPixel(13, 0)
	if !im.Contains(col, h/2) {
		t.Errorf("right LED col %d outside image", col)
	}
}

func TestImager_CircumLRRightMapsToLastColumn(t *testing.T) {
	const w, h = 200, 100
	b := newTestBlade(t, DefaultParams(4))
	im, err := NewImager(newTestImage(t, w, h), b, CircumLR)
	if err != nil {
		t.Fatal(err)
	}

	col, row := im.MapToPixel(13, 0)
	if (col != w && col != w-1) || row != h/2 {
		t.Errorf("right LED -> (%d, %d), want (~%d, %d)", col, row, w, h/2)
	}
	col, row = im.MapToPixel(-13, 0)
	if col != 0 || row != h/2 {
		t.Errorf("left LED -> (%d, %d), want (0, %d)", col, row, h/2)
	}
	// Top of the fan overshoots a landscape image.
	col, row = im.MapToPixel(0, 13)
	if im.Contains(col, row) {
		t.Errorf("top LED (%d, %d) should be outside the image", col, row)
	}
	if row < -51 || row > -49 {
		t.Errorf("top LED row = %d, want about -50", row)
	}
}

func TestImager_CenterMapsToImageCenter(t *testing.T) {
	b := newTestBlade(t, DefaultParams(6))
	for _, m := range FitModes() {
		im, err := NewImager(newTestImage(t, 64, 48), b, m)
		if err != nil {
			t.Fatal(err)
		}
		if col, row := im.MapToPixel(0, 0); col != 32 || row != 24 {
			t.Errorf("%v: center -> (%d, %d), want (32, 24)", m, col, row)
		}
	}
}

func TestImager_MapAllMatchesMapToPixel(t *testing.T) {
	b := newTestBlade(t, DefaultParams(12))
	im, err := NewImager(newTestImage(t, 120, 80), b, Inscribe)
	if err != nil {
		t.Fatal(err)
	}
	pts := b.PositionAtAngle(200)
	px := im.MapAll(pts)
	for i, p := range pts {
		col, row := im.MapToPixel(p.X, p.Y)
		if px[i] != (Pixel{col, row}) {
			t.Errorf("LED %d: MapAll %+v, MapToPixel (%d, %d)", i, px[i], col, row)
		}
	}
}

func TestNewImager_Errors(t *testing.T) {
	b := newTestBlade(t, DefaultParams(4))

	if _, err := NewImager(nil, b, Inscribe); !errors.Is(err, raster.ErrImageLoad) {
		t.Errorf("nil image: got %v, want ErrImageLoad", err)
	}
	if _, err := NewImager(newTestImage(t, 10, 10), b, FitMode(7)); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("unknown mode: got %v, want ErrInvalidConfiguration", err)
	}
	if _, err := NewImager(newTestImage(t, 10, 10), nil, Inscribe); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("nil blade: got %v, want ErrInvalidParameter", err)
	}

	// A single LED sitting on the hub gives no extent to scale against.
	p := DefaultParams(1)
	p.MarginCenter = 0
	hub := newTestBlade(t, p)
	if _, err := NewImager(newTestImage(t, 10, 10), hub, CircumLR); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("degenerate blade: got %v, want ErrInvalidParameter", err)
	}
}
