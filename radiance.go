package rgb9e5ktx

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/gogpu/gputypes"
)

const (
	radianceMinRLEWidth = 8
	radianceMaxRLEWidth = 0x7fff
)

// DecodeRadiance decodes a Radiance RGBE (.hdr) image into one RGBA mip level.
// Flat, old-style and new-style run-length scanlines are accepted; only the
// standard "-Y <height> +X <width>" orientation is supported.
func DecodeRadiance(data []byte) (*DecodedImage, error) {
	br := bufio.NewReader(bytes.NewReader(data))

	magic, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read Radiance signature: %w", err)
	}
	if !strings.HasPrefix(magic, "#?") {
		return nil, errors.New("not a Radiance HDR file")
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read Radiance header: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "FORMAT="); ok && v != "32-bit_rle_rgbe" {
			return nil, fmt.Errorf("unsupported Radiance pixel format %q", v)
		}
	}

	resolution, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read Radiance resolution: %w", err)
	}
	var width, height int
	if _, err := fmt.Sscanf(strings.TrimSpace(resolution), "-Y %d +X %d", &height, &width); err != nil {
		return nil, fmt.Errorf("unsupported Radiance resolution line %q", strings.TrimSpace(resolution))
	}
	if err := checkSourceSize(width, height, len(data), maxPixelsPerByte); err != nil {
		return nil, err
	}
	// Every scanline starts with at least one 4-byte pixel or run header.
	if height > len(data)/4 {
		return nil, fmt.Errorf("%w: %d scanlines from %d bytes", ErrImageTooLarge, height, len(data))
	}

	pix := make([]float32, width*height*4)
	scan := make([]byte, width*4)
	for y := 0; y < height; y++ {
		if err := readRadianceScanline(br, scan); err != nil {
			return nil, fmt.Errorf("scanline %d: %w", y, err)
		}
		row := pix[y*width*4 : (y+1)*width*4]
		for x := 0; x < width; x++ {
			r, g, b := rgbeToFloat(scan[x*4], scan[x*4+1], scan[x*4+2], scan[x*4+3])
			row[x*4], row[x*4+1], row[x*4+2], row[x*4+3] = r, g, b, 1
		}
	}

	return &DecodedImage{
		Width:  width,
		Height: height,
		Format: gputypes.TextureFormatRGBA32Float,
		Levels: [][]float32{pix},
	}, nil
}

func rgbeToFloat(r, g, b, e byte) (float32, float32, float32) {
	if e == 0 {
		return 0, 0, 0
	}
	f := math.Ldexp(1, int(e)-(128+8))
	return float32(float64(r) * f), float32(float64(g) * f), float32(float64(b) * f)
}

// readRadianceScanline fills scan with width RGBE quadruples.
func readRadianceScanline(br *bufio.Reader, scan []byte) error {
	width := len(scan) / 4

	var head [4]byte
	if _, err := io.ReadFull(br, head[:]); err != nil {
		return err
	}

	if width < radianceMinRLEWidth || width > radianceMaxRLEWidth || head[0] != 2 || head[1] != 2 || head[2]&0x80 != 0 {
		copy(scan, head[:])
		return readRadianceFlat(br, scan, 1)
	}
	if int(head[2])<<8|int(head[3]) != width {
		return errors.New("run-length scanline width mismatch")
	}

	// New-style RLE stores each component as its own run-length stream.
	for c := 0; c < 4; c++ {
		for x := 0; x < width; {
			count, err := br.ReadByte()
			if err != nil {
				return err
			}
			if count > 128 {
				n := int(count) - 128
				if x+n > width {
					return errors.New("run overruns scanline")
				}
				v, err := br.ReadByte()
				if err != nil {
					return err
				}
				for ; n > 0; n-- {
					scan[x*4+c] = v
					x++
				}
				continue
			}
			n := int(count)
			if n == 0 || x+n > width {
				return errors.New("invalid literal run")
			}
			for ; n > 0; n-- {
				v, err := br.ReadByte()
				if err != nil {
					return err
				}
				scan[x*4+c] = v
				x++
			}
		}
	}
	return nil
}

// readRadianceFlat reads uncompressed or old-style run-length pixels, starting at pixel start.
// An old-style run is a (1, 1, 1, n) pixel repeating the previous pixel, with consecutive runs
// shifting n left by 8 bits each.
func readRadianceFlat(br *bufio.Reader, scan []byte, start int) error {
	width := len(scan) / 4
	shift := 0
	x := start
	if x > 0 && scan[0] == 1 && scan[1] == 1 && scan[2] == 1 {
		return errors.New("run-length repeat without a previous pixel")
	}
	for x < width {
		var px [4]byte
		if _, err := io.ReadFull(br, px[:]); err != nil {
			return err
		}
		if px[0] == 1 && px[1] == 1 && px[2] == 1 {
			if x == 0 {
				return errors.New("run-length repeat without a previous pixel")
			}
			n := int(px[3]) << shift
			if x+n > width {
				return errors.New("run overruns scanline")
			}
			prev := scan[(x-1)*4 : x*4]
			for ; n > 0; n-- {
				copy(scan[x*4:], prev)
				x++
			}
			shift += 8
			continue
		}
		copy(scan[x*4:], px[:])
		x++
		shift = 0
	}
	return nil
}
