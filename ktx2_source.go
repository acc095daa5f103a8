package rgb9e5ktx

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/vearutop/rgb9e5ktx/internal/half"
)

// DecodeKTX2 decodes an uncompressed 2D RGBA16F or RGBA32F KTX 2.0 texture with all of its mip levels.
func DecodeKTX2(data []byte) (*DecodedImage, error) {
	f, err := ReadKTX2(data)
	if err != nil {
		return nil, err
	}

	hd := f.Header
	if hd.SupercompressionScheme != ktx2SupercompressionNone {
		return nil, fmt.Errorf("supercompressed KTX2 (scheme %d) not supported", hd.SupercompressionScheme)
	}
	if hd.FaceCount != 1 || hd.LayerCount > 1 || hd.PixelDepth > 1 {
		return nil, fmt.Errorf("only single 2D KTX2 textures are supported (faces %d, layers %d, depth %d)",
			hd.FaceCount, hd.LayerCount, hd.PixelDepth)
	}

	format := f.Format()
	var bpp int
	switch format {
	case gputypes.TextureFormatRGBA16Float:
		bpp = 8
	case gputypes.TextureFormatRGBA32Float:
		bpp = 16
	default:
		return nil, fmt.Errorf("%w: KTX2 vkFormat %d", ErrUnsupportedFormat, hd.VkFormat)
	}

	img := &DecodedImage{
		Width:  int(hd.PixelWidth),
		Height: int(hd.PixelHeight),
		Format: format,
		Levels: make([][]float32, len(f.Levels)),
	}
	// Level data is stored uncompressed, every pixel takes bpp bytes of the file.
	if err := checkSourceSize(img.Width, img.Height, len(data), 1); err != nil {
		return nil, err
	}

	for i := range f.Levels {
		w, h := LevelSize(img.Width, img.Height, i)
		src := f.LevelData(i)
		if len(src) != w*h*bpp {
			return nil, fmt.Errorf("KTX2 level %d holds %d bytes, want %d", i, len(src), w*h*bpp)
		}

		pix := make([]float32, w*h*4)
		if bpp == 8 {
			half.DecodeLE(pix, src)
		} else {
			for j := range pix {
				pix[j] = math.Float32frombits(binary.LittleEndian.Uint32(src[j*4:]))
			}
		}
		img.Levels[i] = pix
	}

	return img, nil
}
