package saver

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// JPEGThumbnailer decodes the captured JPEG, downsamples it and re-encodes it.
type JPEGThumbnailer struct {
	Quality int
}

func (j JPEGThumbnailer) Thumbnail(r Request, sampleSize int) (Thumbnail, error) {
	src, err := jpeg.Decode(bytes.NewReader(r.Data))
	if err != nil {
		return Thumbnail{}, fmt.Errorf("decode jpeg: %w", err)
	}
	if sampleSize < 1 {
		sampleSize = 1
	}
	b := src.Bounds()
	w := max(b.Dx()/sampleSize, 1)
	h := max(b.Dy()/sampleSize, 1)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	out := rotate(dst, r.Orientation)

	quality := j.Quality
	if quality <= 0 {
		quality = 80
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return Thumbnail{}, fmt.Errorf("encode thumbnail: %w", err)
	}
	ob := out.Bounds()
	return Thumbnail{Data: buf.Bytes(), Width: ob.Dx(), Height: ob.Dy()}, nil
}

// rotate turns img clockwise by orientation degrees (0, 90, 180 or 270).
func rotate(img *image.RGBA, orientation int) *image.RGBA {
	orientation = ((orientation % 360) + 360) % 360
	if orientation == 0 || orientation%90 != 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var out *image.RGBA
	if orientation == 180 {
		out = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		out = image.NewRGBA(image.Rect(0, 0, h, w))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.RGBAAt(b.Min.X+x, b.Min.Y+y)
			switch orientation {
			case 90:
				out.SetRGBA(h-1-y, x, c)
			case 180:
				out.SetRGBA(w-1-x, h-1-y, c)
			case 270:
				out.SetRGBA(y, w-1-x, c)
			}
		}
	}
	return out
}
