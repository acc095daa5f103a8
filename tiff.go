package rgb9e5ktx

import (
	"bytes"
	"errors"
	"image"
	"image/color"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/tiff"
)

// DecodeTIFF decodes an 8 or 16 bit integer TIFF into one RGBA mip level normalized to [0, 1].
// Samples are un-premultiplied; no transfer function is removed.
func DecodeTIFF(data []byte) (*DecodedImage, error) {
	cfg, err := tiff.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := checkSourceSize(cfg.Width, cfg.Height, len(data), maxPixelsPerByte); err != nil {
		return nil, err
	}

	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, errors.New("invalid TIFF dimensions")
	}

	format := gputypes.TextureFormatRGBA8Unorm
	switch img.(type) {
	case *image.RGBA64, *image.NRGBA64, *image.Gray16:
		format = gputypes.TextureFormatRGBA16Unorm
	}

	pix := make([]float32, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			i := (y*w + x) * 4
			pix[i] = float32(c.R) / 65535.0
			pix[i+1] = float32(c.G) / 65535.0
			pix[i+2] = float32(c.B) / 65535.0
			pix[i+3] = float32(c.A) / 65535.0
		}
	}

	return &DecodedImage{
		Width:  w,
		Height: h,
		Format: format,
		Levels: [][]float32{pix},
	}, nil
}
