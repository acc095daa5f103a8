package rgb9e5ktx

import "github.com/gogpu/gputypes"

// DecodedImage stores linear RGBA float32 samples for every mip level of a source image.
// Levels[0] is full resolution; level i is max(1, Width>>i) by max(1, Height>>i) pixels.
type DecodedImage struct {
	Width  int
	Height int
	// Format is the texel format the source was stored in, kept for reporting.
	Format gputypes.TextureFormat
	Levels [][]float32
}

// MipCount returns the number of mip levels.
func (d *DecodedImage) MipCount() int { return len(d.Levels) }

// PackedTexture stores shared-exponent words for every mip level, largest first.
type PackedTexture struct {
	Width  int
	Height int
	Format gputypes.TextureFormat
	Levels [][]byte
}

// MipCount returns the number of mip levels.
func (p *PackedTexture) MipCount() int { return len(p.Levels) }

// LevelSize returns the dimensions of mip level i for a base size of w by h.
func LevelSize(w, h, i int) (int, int) {
	lw, lh := w>>i, h>>i
	if lw < 1 {
		lw = 1
	}
	if lh < 1 {
		lh = 1
	}
	return lw, lh
}
