package rgb9e5ktx

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/gputypes"
)

// EncodeRGB9E5 packs a linear RGB triple into an E5B9G9R9 word.
// Bits 0-8 hold red, 9-17 green, 18-26 blue and 27-31 the biased shared exponent.
// Negative and NaN channels become 0, values above MaxRGB9E5 saturate.
func EncodeRGB9E5(r, g, b float32) uint32 {
	rc := clampRGB9E5(r)
	gc := clampRGB9E5(g)
	bc := clampRGB9E5(b)

	maxc := rc
	if gc > maxc {
		maxc = gc
	}
	if bc > maxc {
		maxc = bc
	}

	// floor(log2(maxc)), clamped to the smallest exponent the format can express.
	floorLog2 := -rgb9e5ExpBias - 1
	if maxc > 0 {
		_, e := math.Frexp(maxc)
		if e-1 > floorLog2 {
			floorLog2 = e - 1
		}
	}
	exp := floorLog2 + 1 + rgb9e5ExpBias

	if roundMantissa(maxc, exp) == rgb9e5MantissaMax+1 {
		exp++
	}

	rm := roundMantissa(rc, exp)
	gm := roundMantissa(gc, exp)
	bm := roundMantissa(bc, exp)

	return uint32(exp)<<27 | bm<<18 | gm<<9 | rm
}

// DecodeRGB9E5 expands an E5B9G9R9 word back to linear RGB.
func DecodeRGB9E5(word uint32) (r, g, b float32) {
	exp := int(word>>27) - rgb9e5ExpBias - rgb9e5MantissaBits
	r = float32(math.Ldexp(float64(word&0x1FF), exp))
	g = float32(math.Ldexp(float64(word>>9&0x1FF), exp))
	b = float32(math.Ldexp(float64(word>>18&0x1FF), exp))
	return r, g, b
}

func clampRGB9E5(v float32) float64 {
	switch {
	case math.IsNaN(float64(v)), v <= 0:
		return 0
	case v >= MaxRGB9E5:
		return float64(MaxRGB9E5)
	}
	return float64(v)
}

// roundMantissa scales v by 2^-(exp-bias-bits) and rounds half up.
func roundMantissa(v float64, exp int) uint32 {
	return uint32(math.Floor(math.Ldexp(v, -(exp-rgb9e5ExpBias-rgb9e5MantissaBits)) + 0.5))
}

// Encode converts every mip level of img to shared-exponent words in row-major order.
// Alpha is dropped. Level buffers must satisfy the DecodedImage size invariant.
func Encode(img *DecodedImage) *PackedTexture {
	out := &PackedTexture{
		Width:  img.Width,
		Height: img.Height,
		Format: gputypes.TextureFormatRGB9E5Ufloat,
		Levels: make([][]byte, len(img.Levels)),
	}

	for i, src := range img.Levels {
		w, h := LevelSize(img.Width, img.Height, i)
		dst := make([]byte, w*h*4)
		encodeRows := func(start, end int) {
			for p := start * w; p < end*w; p++ {
				s := src[p*4 : p*4+4]
				binary.LittleEndian.PutUint32(dst[p*4:], EncodeRGB9E5(s[0], s[1], s[2]))
			}
		}
		if w*h < parallelEncodeMinPixels {
			encodeRows(0, h)
		} else {
			parallelFor(h, encodeRows)
		}
		out.Levels[i] = dst
	}

	return out
}
