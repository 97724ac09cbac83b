package media

import (
	"image"
	"image/color"
)

// YCbCr returns an image.YCbCr view sharing the frame's sample slices.
func (f *VideoFrame) YCbCr() *image.YCbCr {
	return &image.YCbCr{
		Y:              f.Y,
		Cb:             f.U,
		Cr:             f.V,
		YStride:        f.YStride,
		CStride:        f.CStride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, f.Width, f.Height),
	}
}

// RGBA converts the frame to RGBA with the integer CCIR 601 coefficients
// used by RoQ players, which differ slightly from image/color.
func (f *VideoFrame) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		crow := (y / 2) * f.CStride
		out := img.Pix[y*img.Stride:]
		for x := 0; x < f.Width; x++ {
			c := ycbcrToRGB(f.Y[y*f.YStride+x], f.U[crow+x/2], f.V[crow+x/2])
			o := x * 4
			out[o+0] = c.R
			out[o+1] = c.G
			out[o+2] = c.B
			out[o+3] = 0xFF
		}
	}
	return img
}

func ycbcrToRGB(y, cb, cr uint8) color.RGBA {
	u := int(cb) - 128
	v := int(cr) - 128
	u1 := (88 * u) >> 8
	u2 := (453 * u) >> 8
	v1 := (359 * v) >> 8
	v2 := (183 * v) >> 8

	yy := int(y)
	return color.RGBA{
		R: clamp(yy + v1),
		G: clamp(yy - v2 - u1),
		B: clamp(yy + u2),
		A: 0xFF,
	}
}

func clamp(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
