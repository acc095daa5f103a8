package rgb9e5ktx

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/vearutop/rgb9e5ktx/internal/half"
)

const exrMagic = 20000630

const (
	exrCompressionNone = 0
	exrCompressionRLE  = 1
	exrCompressionZips = 2
	exrCompressionZip  = 3
)

const (
	exrPixelUint  = 0
	exrPixelHalf  = 1
	exrPixelFloat = 2
)

const (
	exrFlagTiled     = 0x00000200
	exrFlagDeep      = 0x00000800
	exrFlagMultipart = 0x00001000
)

// Channel roles map to RGBA sample offsets; luminance fans out to R, G and B.
const (
	exrChanOther = -2
	exrChanY     = -1
	exrChanR     = 0
	exrChanG     = 1
	exrChanB     = 2
	exrChanA     = 3
)

type exrChannel struct {
	name      string
	pixelType int32
	xSampling int32
	ySampling int32
	role      int
}

func (c exrChannel) bytesPerSample() int {
	if c.pixelType == exrPixelHalf {
		return 2
	}
	return 4
}

type exrHeader struct {
	channels    []exrChannel
	dataWindow  [4]int32
	compression byte
}

func (h *exrHeader) size() (int, int) {
	w := int64(h.dataWindow[2]) - int64(h.dataWindow[0]) + 1
	ht := int64(h.dataWindow[3]) - int64(h.dataWindow[1]) + 1
	return int(w), int(ht)
}

func (h *exrHeader) linesPerBlock() int {
	if h.compression == exrCompressionZip {
		return 16
	}
	return 1
}

// DecodeEXR decodes a single-part scanline OpenEXR image into one RGBA mip level.
// Supported compressions are none, RLE, ZIPS and ZIP; channels may be half, float or uint.
// Missing alpha defaults to 1, a lone Y channel is replicated to R, G and B.
func DecodeEXR(data []byte) (*DecodedImage, error) {
	r := bytes.NewReader(data)
	hdr, err := readEXRHeader(r)
	if err != nil {
		return nil, err
	}

	width, height := hdr.size()
	if err := checkSourceSize(width, height, len(data), maxPixelsPerByte); err != nil {
		return nil, err
	}

	blockLines := hdr.linesPerBlock()
	blockCount := (height + blockLines - 1) / blockLines
	if blockCount > r.Len()/8 {
		return nil, fmt.Errorf("%w: %d scanline blocks from %d bytes", ErrImageTooLarge, blockCount, r.Len())
	}
	offsets := make([]uint64, blockCount)
	if err := binary.Read(r, binary.LittleEndian, offsets); err != nil {
		return nil, fmt.Errorf("read OpenEXR offset table: %w", err)
	}

	pix := make([]float32, width*height*4)
	hasAlpha := false
	allHalf := true
	for _, ch := range hdr.channels {
		if ch.role == exrChanA {
			hasAlpha = true
		}
		if ch.role != exrChanOther && ch.pixelType != exrPixelHalf {
			allHalf = false
		}
	}
	if !hasAlpha {
		for i := 3; i < len(pix); i += 4 {
			pix[i] = 1
		}
	}

	baseY := int(hdr.dataWindow[1])
	for _, off := range offsets {
		if off == 0 {
			continue
		}
		if _, err := r.Seek(int64(off), io.SeekStart); err != nil {
			return nil, err
		}
		var chunk struct {
			Y    int32
			Size int32
		}
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			return nil, fmt.Errorf("read OpenEXR chunk: %w", err)
		}
		if chunk.Size < 0 || int64(chunk.Size) > int64(r.Len()) {
			return nil, errors.New("invalid OpenEXR block size")
		}
		raw := make([]byte, chunk.Size)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, err
		}

		startY := int(chunk.Y) - baseY
		if startY < 0 || startY >= height {
			return nil, errors.New("OpenEXR scanline out of bounds")
		}
		lines := blockLines
		if startY+lines > height {
			lines = height - startY
		}

		expected := exrBlockBytes(width, lines, hdr.channels)
		unpacked, err := exrDecompress(hdr.compression, raw, expected)
		if err != nil {
			return nil, err
		}
		if err := exrDecodeBlock(pix, hdr.channels, startY, width, lines, unpacked); err != nil {
			return nil, err
		}
	}

	format := gputypes.TextureFormatRGBA32Float
	if allHalf {
		format = gputypes.TextureFormatRGBA16Float
	}

	return &DecodedImage{
		Width:  width,
		Height: height,
		Format: format,
		Levels: [][]float32{pix},
	}, nil
}

func readEXRHeader(r *bytes.Reader) (*exrHeader, error) {
	var preamble struct {
		Magic   uint32
		Version uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &preamble); err != nil {
		return nil, err
	}
	if preamble.Magic != exrMagic {
		return nil, errors.New("not an OpenEXR file")
	}
	switch {
	case preamble.Version&exrFlagTiled != 0:
		return nil, errors.New("tiled OpenEXR not supported")
	case preamble.Version&exrFlagMultipart != 0:
		return nil, errors.New("multipart OpenEXR not supported")
	case preamble.Version&exrFlagDeep != 0:
		return nil, errors.New("deep OpenEXR not supported")
	}

	hdr := &exrHeader{compression: exrCompressionNone}
	hasDataWindow := false

	for {
		name, err := readNullString(r)
		if err != nil {
			return nil, err
		}
		if name == "" {
			break
		}
		typ, err := readNullString(r)
		if err != nil {
			return nil, err
		}
		var size int32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, err
		}
		if size < 0 || int64(size) > int64(r.Len()) {
			return nil, errors.New("invalid OpenEXR attribute size")
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}

		switch name {
		case "channels":
			if typ != "chlist" {
				return nil, errors.New("unexpected channels attribute type")
			}
			if hdr.channels, err = parseEXRChannels(payload); err != nil {
				return nil, err
			}
		case "dataWindow":
			if typ != "box2i" || len(payload) != 16 {
				return nil, errors.New("invalid dataWindow attribute")
			}
			for i := range hdr.dataWindow {
				hdr.dataWindow[i] = int32(binary.LittleEndian.Uint32(payload[i*4:]))
			}
			hasDataWindow = true
		case "compression":
			if typ != "compression" || len(payload) < 1 {
				return nil, errors.New("invalid compression attribute")
			}
			hdr.compression = payload[0]
		case "tiles":
			return nil, errors.New("tiled OpenEXR not supported")
		}
	}

	if len(hdr.channels) == 0 {
		return nil, errors.New("OpenEXR missing channels")
	}
	if !hasDataWindow {
		return nil, errors.New("OpenEXR missing dataWindow")
	}
	if !hasColorChannel(hdr.channels) {
		return nil, errors.New("OpenEXR missing R/G/B or Y channels")
	}
	for _, ch := range hdr.channels {
		if ch.xSampling != 1 || ch.ySampling != 1 {
			return nil, errors.New("OpenEXR subsampled channels are not supported")
		}
	}
	switch hdr.compression {
	case exrCompressionNone, exrCompressionRLE, exrCompressionZips, exrCompressionZip:
	default:
		return nil, fmt.Errorf("unsupported OpenEXR compression %d", hdr.compression)
	}

	return hdr, nil
}

func parseEXRChannels(data []byte) ([]exrChannel, error) {
	r := bytes.NewReader(data)
	var channels []exrChannel
	for {
		name, err := readNullString(r)
		if err != nil {
			return nil, err
		}
		if name == "" {
			break
		}
		var desc struct {
			PixelType int32
			PLinear   uint8
			Reserved  [3]byte
			XSampling int32
			YSampling int32
		}
		if err := binary.Read(r, binary.LittleEndian, &desc); err != nil {
			return nil, err
		}
		if desc.PixelType != exrPixelHalf && desc.PixelType != exrPixelFloat && desc.PixelType != exrPixelUint {
			return nil, fmt.Errorf("unsupported OpenEXR pixel type %d", desc.PixelType)
		}

		role := exrChanOther
		switch strings.ToUpper(name) {
		case "R":
			role = exrChanR
		case "G":
			role = exrChanG
		case "B":
			role = exrChanB
		case "A":
			role = exrChanA
		case "Y":
			role = exrChanY
		}
		channels = append(channels, exrChannel{
			name:      name,
			pixelType: desc.PixelType,
			xSampling: desc.XSampling,
			ySampling: desc.YSampling,
			role:      role,
		})
	}
	return channels, nil
}

func exrBlockBytes(width, lines int, channels []exrChannel) int {
	total := 0
	for _, ch := range channels {
		total += width * lines * ch.bytesPerSample()
	}
	return total
}

func exrDecompress(compression byte, data []byte, expected int) ([]byte, error) {
	// Blocks that do not shrink are stored raw whatever the compression.
	if compression == exrCompressionNone || len(data) == expected {
		if len(data) != expected {
			return nil, errors.New("unexpected OpenEXR block size")
		}
		return data, nil
	}

	var unpacked []byte
	switch compression {
	case exrCompressionRLE:
		var err error
		if unpacked, err = exrUnRLE(data, expected); err != nil {
			return nil, err
		}
	case exrCompressionZips, exrCompressionZip:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		if unpacked, err = io.ReadAll(zr); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported OpenEXR compression")
	}

	if len(unpacked) != expected {
		return nil, errors.New("unexpected OpenEXR decompressed size")
	}
	undoPredictor(unpacked)
	return interleaveHalves(unpacked), nil
}

// exrUnRLE expands OpenEXR run-length data: a negative count copies -count literal bytes,
// a non-negative count repeats the next byte count+1 times.
func exrUnRLE(data []byte, expected int) ([]byte, error) {
	out := make([]byte, 0, expected)
	for i := 0; i < len(data); {
		n := int(int8(data[i]))
		i++
		if n < 0 {
			if i-n > len(data) {
				return nil, errors.New("OpenEXR RLE literal overruns block")
			}
			out = append(out, data[i:i-n]...)
			i -= n
		} else {
			if i >= len(data) {
				return nil, errors.New("OpenEXR RLE run overruns block")
			}
			for k := 0; k <= n; k++ {
				out = append(out, data[i])
			}
			i++
		}
		if len(out) > expected {
			return nil, errors.New("OpenEXR RLE output too large")
		}
	}
	return out, nil
}

func undoPredictor(data []byte) {
	for i := 1; i < len(data); i++ {
		data[i] = byte(int(data[i]) + int(data[i-1]) - 128)
	}
}

// interleaveHalves reverses the encoder's split of even and odd bytes into two halves.
func interleaveHalves(data []byte) []byte {
	n := (len(data) + 1) / 2
	out := make([]byte, len(data))
	for i := range out {
		if i%2 == 0 {
			out[i] = data[i/2]
		} else {
			out[i] = data[n+i/2]
		}
	}
	return out
}

func exrDecodeBlock(pix []float32, channels []exrChannel, startY, width, lines int, data []byte) error {
	offset := 0
	for row := 0; row < lines; row++ {
		y := startY + row
		for _, ch := range channels {
			lineBytes := width * ch.bytesPerSample()
			if offset+lineBytes > len(data) {
				return errors.New("OpenEXR block truncated")
			}
			line := data[offset : offset+lineBytes]
			offset += lineBytes

			if ch.role == exrChanOther {
				continue
			}
			exrApplyLine(pix[y*width*4:(y+1)*width*4], ch, line)
		}
	}
	return nil
}

func exrApplyLine(row []float32, ch exrChannel, line []byte) {
	for x := 0; x < len(row)/4; x++ {
		var v float32
		switch ch.pixelType {
		case exrPixelHalf:
			v = half.ToFloat32(binary.LittleEndian.Uint16(line[x*2:]))
		case exrPixelFloat:
			v = math.Float32frombits(binary.LittleEndian.Uint32(line[x*4:]))
		case exrPixelUint:
			v = float32(binary.LittleEndian.Uint32(line[x*4:]))
		}

		px := row[x*4 : x*4+4]
		if ch.role == exrChanY {
			px[0], px[1], px[2] = v, v, v
			continue
		}
		px[ch.role] = v
	}
}

func hasColorChannel(channels []exrChannel) bool {
	for _, ch := range channels {
		switch ch.role {
		case exrChanR, exrChanG, exrChanB, exrChanY:
			return true
		}
	}
	return false
}

func readNullString(r *bytes.Reader) (string, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		buf = append(buf, b)
	}
	return string(buf), nil
}
