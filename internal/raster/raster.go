package raster

import (
	"errors"
	"fmt"
)

// ErrImageLoad is returned when an image cannot be read or decoded, and when
// sampling is requested against an image that never loaded.
var ErrImageLoad = errors.New("image load error")

// RGB is the color shown by a single LED.
type RGB struct {
	R, G, B uint8
}

// Off is the color of an LED outside the image.
var Off = RGB{}

// Image is an immutable, row-major pixel buffer of Height x Width x Channels
// 8-bit values in red, green, blue(, alpha) order.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8 // Pix[(row*Width+col)*Channels + ch]
}

// New allocates a zeroed image.
func New(width, height, channels int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %dx%d", width, height)
	}
	if channels < 1 || channels > 4 {
		return nil, fmt.Errorf("channels must be between 1 and 4, got %d", channels)
	}
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
	}, nil
}

// Solid returns a 3-channel image filled with c.
func Solid(width, height int, c RGB) (*Image, error) {
	img, err := New(width, height, 3)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(img.Pix); i += 3 {
		img.Pix[i] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
	}
	return img, nil
}

// Validate checks that the buffer length matches the declared shape.
func (m *Image) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: no image", ErrImageLoad)
	}
	if m.Width <= 0 || m.Height <= 0 || m.Channels < 1 {
		return fmt.Errorf("%w: bad shape %dx%dx%d", ErrImageLoad, m.Height, m.Width, m.Channels)
	}
	if want := m.Width * m.Height * m.Channels; len(m.Pix) != want {
		return fmt.Errorf("%w: pixel buffer has %d values, want %d", ErrImageLoad, len(m.Pix), want)
	}
	return nil
}

// Contains reports whether (col, row) lies inside the image.
func (m *Image) Contains(col, row int) bool {
	return col >= 0 && col < m.Width && row >= 0 && row < m.Height
}

// At returns the color of pixel [row][col]. Single-channel images replicate
// the gray value; extra channels (alpha) are ignored.
// The caller must check Contains first.
func (m *Image) At(row, col int) RGB {
	i := (row*m.Width + col) * m.Channels
	if m.Channels < 3 {
		v := m.Pix[i]
		return RGB{v, v, v}
	}
	return RGB{m.Pix[i], m.Pix[i+1], m.Pix[i+2]}
}

// Set writes c into pixel [row][col].
func (m *Image) Set(row, col int, c RGB) {
	i := (row*m.Width + col) * m.Channels
	if m.Channels < 3 {
		m.Pix[i] = uint8((uint16(c.R) + uint16(c.G) + uint16(c.B)) / 3)
		return
	}
	m.Pix[i] = c.R
	m.Pix[i+1] = c.G
	m.Pix[i+2] = c.B
}

// AspectRatio returns Width/Height.
func (m *Image) AspectRatio() float64 {
	return float64(m.Width) / float64(m.Height)
}
