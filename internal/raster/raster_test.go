package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func TestNew_InvalidShape(t *testing.T) {
	cases := []struct {
		name          string
		w, h, channel int
	}{
		{"zero_width", 0, 4, 3},
		{"negative_height", 4, -1, 3},
		{"no_channels", 4, 4, 0},
		{"five_channels", 4, 4, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.w, tc.h, tc.channel)
			assert.Error(t, err)
		})
	}
}

func TestSolid(t *testing.T) {
	c := RGB{R: 10, G: 20, B: 30}
	img, err := Solid(3, 2, c)
	require.NoError(t, err)
	require.NoError(t, img.Validate())
	assert.Equal(t, 18, len(img.Pix))
	for row := 0; row < img.Height; row++ {
		for col := 0; col < img.Width; col++ {
			assert.Equal(t, c, img.At(row, col))
		}
	}
	assert.InDelta(t, 1.5, img.AspectRatio(), 1e-12)
}

func TestValidate(t *testing.T) {
	var nilImg *Image
	assert.ErrorIs(t, nilImg.Validate(), ErrImageLoad)
	assert.ErrorIs(t, (&Image{Width: 2, Height: 2, Channels: 3, Pix: make([]uint8, 5)}).Validate(), ErrImageLoad)
	assert.ErrorIs(t, (&Image{Width: 0, Height: 2, Channels: 3}).Validate(), ErrImageLoad)
}

func TestContains(t *testing.T) {
	img, err := New(4, 3, 3)
	require.NoError(t, err)
	assert.True(t, img.Contains(0, 0))
	assert.True(t, img.Contains(3, 2))
	assert.False(t, img.Contains(4, 0))
	assert.False(t, img.Contains(0, 3))
	assert.False(t, img.Contains(-1, 1))
}

func TestSetAt_RowMajor(t *testing.T) {
	img, err := New(4, 3, 4)
	require.NoError(t, err)
	img.Set(2, 1, RGB{R: 1, G: 2, B: 3})

	assert.Equal(t, RGB{R: 1, G: 2, B: 3}, img.At(2, 1))
	assert.Equal(t, Off, img.At(1, 2))
	// Pixel [2][1] of a 4-wide RGBA buffer starts at (2*4+1)*4.
	assert.Equal(t, uint8(1), img.Pix[36])
}

func TestGrayReplicated(t *testing.T) {
	img, err := New(2, 2, 1)
	require.NoError(t, err)
	img.Set(0, 1, RGB{R: 30, G: 60, B: 90})
	assert.Equal(t, RGB{R: 60, G: 60, B: 60}, img.At(0, 1))
}

func TestFromImage_OffsetBounds(t *testing.T) {
	src := image.NewRGBA(image.Rect(5, 5, 8, 7))
	src.Set(5, 5, color.RGBA{R: 255, A: 255})
	src.Set(7, 6, color.RGBA{B: 200, A: 255})

	img, err := FromImage(src)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Width)
	assert.Equal(t, 2, img.Height)
	assert.Equal(t, RGB{R: 255}, img.At(0, 0))
	assert.Equal(t, RGB{B: 200}, img.At(1, 2))
}

func TestFromImage_Gray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 1))
	src.SetGray(1, 0, color.Gray{Y: 77})

	img, err := FromImage(src)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Channels)
	assert.Equal(t, RGB{R: 77, G: 77, B: 77}, img.At(0, 1))
}

func encodeTestImage(t *testing.T) *image.NRGBA {
	t.Helper()
	src := image.NewNRGBA(image.Rect(0, 0, 6, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			src.Set(x, y, color.NRGBA{R: uint8(x * 40), G: uint8(y * 60), B: 9, A: 255})
		}
	}
	return src
}

func TestDecode_PNG(t *testing.T) {
	src := encodeTestImage(t)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 6, img.Width)
	assert.Equal(t, 4, img.Height)
	assert.Equal(t, RGB{R: 200, G: 180, B: 9}, img.At(3, 5))
}

func TestDecode_BMP(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, encodeTestImage(t)))

	img, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, RGB{R: 40, G: 60, B: 9}, img.At(1, 1))
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not an image")))
	assert.ErrorIs(t, err, ErrImageLoad)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, encodeTestImage(t)))
	require.NoError(t, f.Close())

	img, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, img.Width)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, ErrImageLoad)

	_, err = Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.ErrorIs(t, err, ErrImageLoad)

	bad := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o600))
	_, err = Load(bad)
	assert.ErrorIs(t, err, ErrImageLoad)
}
