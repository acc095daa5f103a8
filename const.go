package rgb9e5ktx

import "time"

const (
	rgb9e5MantissaBits = 9
	rgb9e5ExpBias      = 15
	rgb9e5MaxBiasedExp = 31
	rgb9e5MantissaMax  = 1<<rgb9e5MantissaBits - 1

	// MaxRGB9E5 is the largest channel value the shared-exponent format can hold.
	MaxRGB9E5 = float32(rgb9e5MantissaMax) / (1 << rgb9e5MantissaBits) * (1 << (rgb9e5MaxBiasedExp - rgb9e5ExpBias))
)

const (
	// maxSourcePixels caps the pixel count a decoder accepts from a file header.
	maxSourcePixels = 1 << 28
	// maxPixelsPerByte bounds how many pixels one payload byte may expand to.
	maxPixelsPerByte = 1024
)

const (
	defaultTickInterval = 10 * time.Millisecond
	// Levels smaller than this are encoded on the calling goroutine.
	parallelEncodeMinPixels = 64 * 64
)
