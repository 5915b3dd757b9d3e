package raster

import (
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"os"

	_ "golang.org/x/image/bmp" // register BMP decoder
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Load opens and decodes the image at path into a 3-channel RGB buffer.
// Any failure wraps ErrImageLoad.
func Load(path string) (*Image, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty image path", ErrImageLoad)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageLoad, err)
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Decode reads any registered image format from r.
func Decode(r io.Reader) (*Image, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrImageLoad, err)
	}
	img, err := FromImage(src)
	if err != nil {
		return nil, fmt.Errorf("%w: convert %s: %v", ErrImageLoad, format, err)
	}
	return img, nil
}

// FromImage converts a decoded image.Image into a 3-channel RGB buffer.
// Colors are un-premultiplied; alpha is discarded.
func FromImage(src image.Image) (*Image, error) {
	b := src.Bounds()
	out, err := New(b.Dx(), b.Dy(), 3)
	if err != nil {
		return nil, err
	}

	nrgba, ok := src.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		xdraw.Draw(nrgba, nrgba.Rect, src, b.Min, xdraw.Src)
	}

	for row := 0; row < out.Height; row++ {
		line := nrgba.Pix[row*nrgba.Stride:]
		for col := 0; col < out.Width; col++ {
			o := (row*out.Width + col) * 3
			out.Pix[o] = line[col*4]
			out.Pix[o+1] = line[col*4+1]
			out.Pix[o+2] = line[col*4+2]
		}
	}
	return out, nil
}
