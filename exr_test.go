package rgb9e5ktx

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/vearutop/rgb9e5ktx/internal/half"
)

type testEXRChannel struct {
	name      string
	pixelType int32
	value     func(x, y int) float32
}

// encodeTestEXR writes a single-part scanline OpenEXR file.
func encodeTestEXR(t *testing.T, width, height int, compression byte, channels []testEXRChannel) []byte {
	t.Helper()

	sort.Slice(channels, func(i, j int) bool { return channels[i].name < channels[j].name })

	le := binary.LittleEndian
	var hdr bytes.Buffer
	attr := func(name, typ string, payload []byte) {
		hdr.WriteString(name)
		hdr.WriteByte(0)
		hdr.WriteString(typ)
		hdr.WriteByte(0)
		_ = binary.Write(&hdr, le, int32(len(payload)))
		hdr.Write(payload)
	}

	var chlist bytes.Buffer
	for _, ch := range channels {
		chlist.WriteString(ch.name)
		chlist.WriteByte(0)
		_ = binary.Write(&chlist, le, ch.pixelType)
		chlist.Write([]byte{0, 0, 0, 0})
		_ = binary.Write(&chlist, le, int32(1))
		_ = binary.Write(&chlist, le, int32(1))
	}
	chlist.WriteByte(0)

	box := le.AppendUint32(nil, 0)
	box = le.AppendUint32(box, 0)
	box = le.AppendUint32(box, uint32(width-1))
	box = le.AppendUint32(box, uint32(height-1))

	_ = binary.Write(&hdr, le, uint32(exrMagic))
	_ = binary.Write(&hdr, le, uint32(2))
	attr("channels", "chlist", chlist.Bytes())
	attr("compression", "compression", []byte{compression})
	attr("dataWindow", "box2i", box)
	attr("displayWindow", "box2i", box)
	attr("lineOrder", "lineOrder", []byte{0})
	attr("pixelAspectRatio", "float", le.AppendUint32(nil, math.Float32bits(1)))
	hdr.WriteByte(0)

	blockLines := 1
	if compression == exrCompressionZip {
		blockLines = 16
	}

	var blocks [][]byte
	for y0 := 0; y0 < height; y0 += blockLines {
		var raw []byte
		for y := y0; y < y0+blockLines && y < height; y++ {
			for _, ch := range channels {
				for x := 0; x < width; x++ {
					v := ch.value(x, y)
					switch ch.pixelType {
					case exrPixelHalf:
						raw = le.AppendUint16(raw, half.FromFloat32(v))
					case exrPixelFloat:
						raw = le.AppendUint32(raw, math.Float32bits(v))
					case exrPixelUint:
						raw = le.AppendUint32(raw, uint32(v))
					}
				}
			}
		}
		packed := compressTestEXR(t, compression, raw)
		if len(packed) >= len(raw) {
			packed = raw
		}
		chunk := le.AppendUint32(nil, uint32(y0))
		chunk = le.AppendUint32(chunk, uint32(len(packed)))
		blocks = append(blocks, append(chunk, packed...))
	}

	out := hdr.Bytes()
	offset := len(out) + 8*len(blocks)
	for _, b := range blocks {
		out = le.AppendUint64(out, uint64(offset))
		offset += len(b)
	}
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out
}

func compressTestEXR(t *testing.T, compression byte, raw []byte) []byte {
	t.Helper()

	if compression == exrCompressionNone {
		return raw
	}

	n := (len(raw) + 1) / 2
	prep := make([]byte, len(raw))
	for i, b := range raw {
		if i%2 == 0 {
			prep[i/2] = b
		} else {
			prep[n+i/2] = b
		}
	}
	for i := len(prep) - 1; i > 0; i-- {
		prep[i] = byte(int(prep[i]) - int(prep[i-1]) + 128)
	}

	switch compression {
	case exrCompressionRLE:
		return rleTestEXR(prep)
	default:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(prep); err != nil {
			t.Fatal(err)
		}
		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
		return buf.Bytes()
	}
}

func rleTestEXR(data []byte) []byte {
	var out []byte
	for i := 0; i < len(data); {
		run := 1
		for i+run < len(data) && run < 128 && data[i+run] == data[i] {
			run++
		}
		if run >= 3 {
			out = append(out, byte(run-1), data[i])
			i += run
			continue
		}
		start := i
		for i < len(data) && i-start < 127 {
			if i+2 < len(data) && data[i] == data[i+1] && data[i] == data[i+2] {
				break
			}
			i++
		}
		out = append(out, byte(int8(-(i - start))))
		out = append(out, data[start:i]...)
	}
	return out
}

func TestDecodeEXRCompressions(t *testing.T) {
	const width, height = 7, 20

	r := func(x, y int) float32 { return float32(x) * 0.5 }
	g := func(x, y int) float32 { return float32(y) * 0.25 }
	b := func(x, y int) float32 { return 1000 }
	a := func(x, y int) float32 { return 0.5 }

	for _, tc := range []struct {
		name        string
		compression byte
	}{
		{"none", exrCompressionNone},
		{"rle", exrCompressionRLE},
		{"zips", exrCompressionZips},
		{"zip", exrCompressionZip},
	} {
		t.Run(tc.name, func(t *testing.T) {
			data := encodeTestEXR(t, width, height, tc.compression, []testEXRChannel{
				{"R", exrPixelHalf, r},
				{"G", exrPixelHalf, g},
				{"B", exrPixelHalf, b},
				{"A", exrPixelHalf, a},
			})

			img, err := DecodeEXR(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if img.Width != width || img.Height != height || img.MipCount() != 1 {
				t.Fatalf("unexpected image %dx%d/%d", img.Width, img.Height, img.MipCount())
			}
			if img.Format != gputypes.TextureFormatRGBA16Float {
				t.Fatalf("unexpected format %s", img.Format)
			}

			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					px := img.Levels[0][(y*width+x)*4:]
					want := [4]float32{r(x, y), g(x, y), b(x, y), a(x, y)}
					for c := range want {
						if px[c] != want[c] {
							t.Fatalf("pixel %d,%d channel %d: got %v want %v", x, y, c, px[c], want[c])
						}
					}
				}
			}
		})
	}
}

func TestDecodeEXRLuminanceFloat(t *testing.T) {
	data := encodeTestEXR(t, 3, 2, exrCompressionZips, []testEXRChannel{
		{"Y", exrPixelFloat, func(x, y int) float32 { return float32(x+y) + 0.1 }},
		{"Z", exrPixelUint, func(x, y int) float32 { return 7 }},
	})

	img, err := DecodeEXR(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Format != gputypes.TextureFormatRGBA32Float {
		t.Fatalf("unexpected format %s", img.Format)
	}
	px := img.Levels[0][(1*3+2)*4:]
	want := float32(3) + 0.1
	if px[0] != want || px[1] != want || px[2] != want || px[3] != 1 {
		t.Fatalf("unexpected pixel %v", px[:4])
	}
}

func TestDecodeEXRRejects(t *testing.T) {
	valid := encodeTestEXR(t, 2, 2, exrCompressionNone, []testEXRChannel{
		{"R", exrPixelHalf, func(x, y int) float32 { return 1 }},
	})

	tiled := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(tiled[4:], 2|exrFlagTiled)

	noColor := encodeTestEXR(t, 2, 2, exrCompressionNone, []testEXRChannel{
		{"depth", exrPixelFloat, func(x, y int) float32 { return 1 }},
	})

	for name, data := range map[string][]byte{
		"empty":     nil,
		"magic":     []byte("not an exr file at all"),
		"tiled":     tiled,
		"no color":  noColor,
		"truncated": valid[:len(valid)-3],
	} {
		if _, err := DecodeEXR(data); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDecodeEXROversized(t *testing.T) {
	valid := encodeTestEXR(t, 2, 2, exrCompressionNone, []testEXRChannel{
		{"R", exrPixelHalf, func(x, y int) float32 { return 1 }},
	})
	attr := []byte("dataWindow\x00box2i\x00")
	box := bytes.Index(valid, attr) + len(attr) + 4

	for name, maxXY := range map[string]uint32{
		"overflow": 0x7fffffff,
		"payload":  4095,
	} {
		data := append([]byte(nil), valid...)
		binary.LittleEndian.PutUint32(data[box+8:], maxXY)
		binary.LittleEndian.PutUint32(data[box+12:], maxXY)
		if _, err := DecodeEXR(data); !errors.Is(err, ErrImageTooLarge) {
			t.Fatalf("%s: expected ErrImageTooLarge, got %v", name, err)
		}
	}
}

func TestExrUnRLE(t *testing.T) {
	data := []byte{0, 1, 2, 3, 3, 3, 3, 3, 9, 9}
	got, err := exrUnRLE(rleTestEXR(data), len(data))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %v want %v", got, data)
	}

	if _, err := exrUnRLE([]byte{0xFE, 1}, 3); err == nil {
		t.Fatal("expected literal overrun error")
	}
}
