package rgb9e5ktx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gogpu/gputypes"
)

const (
	ktx2IdentifierSize = 12
	ktx2HeaderSize     = ktx2IdentifierSize + 9*4 + 4*4 + 2*8
	ktx2LevelEntrySize = 3 * 8

	ktx2SupercompressionNone = 0
)

// Vulkan format codes used in KTX2 headers.
const (
	vkFormatR16G16B16A16Sfloat = 97
	vkFormatR32G32B32A32Sfloat = 109
	vkFormatE5B9G9R9UfloatPack = 123
)

// Khronos Data Format basic descriptor values.
const (
	dfdVersion        = 2
	dfdModelRGBSDA    = 1
	dfdPrimariesBT709 = 1
	dfdTransferLinear = 1

	dfdChannelR = 0
	dfdChannelG = 1
	dfdChannelB = 2

	dfdQualifierExponent = 0x20

	dfdBasicBlockSize = 24
	dfdSampleSize     = 16
)

var ktx2Identifier = [ktx2IdentifierSize]byte{0xAB, 'K', 'T', 'X', ' ', '2', '0', 0xBB, '\r', '\n', 0x1A, '\n'}

var (
	// ErrWrite marks container write failures.
	ErrWrite = errors.New("ktx2 write failed")
	// ErrUnsupportedFormat is returned for texel formats the container code cannot map.
	ErrUnsupportedFormat = errors.New("unsupported texture format")
	// ErrInvalidTexture is returned when level buffers do not match the texture dimensions.
	ErrInvalidTexture = errors.New("invalid packed texture")
	// ErrNotKTX2 is returned when data does not start with the KTX 2.0 identifier.
	ErrNotKTX2 = errors.New("not a KTX 2.0 file")
)

// WriteError describes a failed attempt to write a container file.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

// Unwrap exposes both ErrWrite and the underlying I/O error.
func (e *WriteError) Unwrap() []error {
	return []error{ErrWrite, e.Err}
}

// KTX2Header mirrors the fixed-size header that follows the identifier.
type KTX2Header struct {
	VkFormat               uint32
	TypeSize               uint32
	PixelWidth             uint32
	PixelHeight            uint32
	PixelDepth             uint32
	LayerCount             uint32
	FaceCount              uint32
	LevelCount             uint32
	SupercompressionScheme uint32
}

// KTX2Index locates the data format descriptor, key/value data and supercompression global data.
type KTX2Index struct {
	DFDByteOffset uint32
	DFDByteLength uint32
	KVDByteOffset uint32
	KVDByteLength uint32
	SGDByteOffset uint64
	SGDByteLength uint64
}

// KTX2Level is one entry of the level index, entry i describing mip level i.
type KTX2Level struct {
	ByteOffset             uint64
	ByteLength             uint64
	UncompressedByteLength uint64
}

// KTX2File is a parsed KTX 2.0 container.
type KTX2File struct {
	Header KTX2Header
	Index  KTX2Index
	Levels []KTX2Level

	data []byte
}

// LevelData returns the raw bytes of mip level i.
func (f *KTX2File) LevelData(i int) []byte {
	l := f.Levels[i]
	return f.data[l.ByteOffset : l.ByteOffset+l.ByteLength]
}

// DFD returns the raw data format descriptor, including its leading total size word.
func (f *KTX2File) DFD() []byte {
	return f.data[f.Index.DFDByteOffset : f.Index.DFDByteOffset+f.Index.DFDByteLength]
}

// Format maps the header vkFormat to a texture format, TextureFormatUndefined if unknown.
func (f *KTX2File) Format() gputypes.TextureFormat {
	switch f.Header.VkFormat {
	case vkFormatR16G16B16A16Sfloat:
		return gputypes.TextureFormatRGBA16Float
	case vkFormatR32G32B32A32Sfloat:
		return gputypes.TextureFormatRGBA32Float
	case vkFormatE5B9G9R9UfloatPack:
		return gputypes.TextureFormatRGB9E5Ufloat
	default:
		return gputypes.TextureFormatUndefined
	}
}

func vkFormatFor(f gputypes.TextureFormat) (vkFormat, typeSize uint32, err error) {
	switch f {
	case gputypes.TextureFormatRGB9E5Ufloat:
		return vkFormatE5B9G9R9UfloatPack, 4, nil
	default:
		return 0, 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
}

// MarshalKTX2 serializes tex into a KTX 2.0 container.
//
// The level index lists level 0 first while level data is stored smallest level first,
// each section aligned to 4 bytes. No key/value data or supercompression is emitted.
//
// pixelDepth and layerCount are both written as 1. KTX 2.0 defines 0 for a 2D non-array
// texture, so strict validators such as ktx validate report the output as a 3D texture
// of depth 1. Loaders that treat 0 and 1 alike read it as 2D.
func MarshalKTX2(tex *PackedTexture) ([]byte, error) {
	vkFormat, typeSize, err := vkFormatFor(tex.Format)
	if err != nil {
		return nil, err
	}
	if tex.Width <= 0 || tex.Height <= 0 || len(tex.Levels) == 0 {
		return nil, fmt.Errorf("%w: %dx%d with %d levels", ErrInvalidTexture, tex.Width, tex.Height, len(tex.Levels))
	}
	for i, lvl := range tex.Levels {
		w, h := LevelSize(tex.Width, tex.Height, i)
		if len(lvl) != w*h*int(typeSize) {
			return nil, fmt.Errorf("%w: level %d has %d bytes, want %d", ErrInvalidTexture, i, len(lvl), w*h*int(typeSize))
		}
	}

	levelCount := len(tex.Levels)
	dfd := rgb9e5DFD()
	dfdOffset := ktx2HeaderSize + levelCount*ktx2LevelEntrySize
	alignment := lcm(int(typeSize), 4)

	entries := make([]KTX2Level, levelCount)
	offset := dfdOffset + len(dfd)
	for i := levelCount - 1; i >= 0; i-- {
		offset = alignUp(offset, alignment)
		n := uint64(len(tex.Levels[i]))
		entries[i] = KTX2Level{ByteOffset: uint64(offset), ByteLength: n, UncompressedByteLength: n}
		offset += len(tex.Levels[i])
	}

	le := binary.LittleEndian
	buf := make([]byte, 0, offset)
	buf = append(buf, ktx2Identifier[:]...)
	for _, v := range []uint32{
		vkFormat,
		typeSize,
		uint32(tex.Width),
		uint32(tex.Height),
		1, // pixelDepth
		1, // layerCount
		1, // faceCount
		uint32(levelCount),
		ktx2SupercompressionNone,
	} {
		buf = le.AppendUint32(buf, v)
	}

	buf = le.AppendUint32(buf, uint32(dfdOffset))
	buf = le.AppendUint32(buf, uint32(len(dfd)))
	buf = le.AppendUint32(buf, 0) // kvdByteOffset
	buf = le.AppendUint32(buf, 0) // kvdByteLength
	buf = le.AppendUint64(buf, 0) // sgdByteOffset
	buf = le.AppendUint64(buf, 0) // sgdByteLength

	for _, e := range entries {
		buf = le.AppendUint64(buf, e.ByteOffset)
		buf = le.AppendUint64(buf, e.ByteLength)
		buf = le.AppendUint64(buf, e.UncompressedByteLength)
	}

	buf = append(buf, dfd...)

	for i := levelCount - 1; i >= 0; i-- {
		for len(buf) < int(entries[i].ByteOffset) {
			buf = append(buf, 0)
		}
		buf = append(buf, tex.Levels[i]...)
	}

	return buf, nil
}

// WriteKTX2 serializes tex to w.
func WriteKTX2(w io.Writer, tex *PackedTexture) error {
	data, err := MarshalKTX2(tex)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// WriteKTX2File creates or truncates path and writes tex into it.
// The file is written in place, a failure may leave it incomplete.
func WriteKTX2File(tex *PackedTexture, path string) error {
	data, err := MarshalKTX2(tex)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Clean(path), data, 0o644); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// ReadKTX2 parses a KTX 2.0 container, checking that every referenced region lies within data.
func ReadKTX2(data []byte) (*KTX2File, error) {
	if len(data) < ktx2HeaderSize || !bytes.Equal(data[:ktx2IdentifierSize], ktx2Identifier[:]) {
		return nil, ErrNotKTX2
	}

	f := &KTX2File{data: data}
	r := bytes.NewReader(data[ktx2IdentifierSize:])
	if err := binary.Read(r, binary.LittleEndian, &f.Header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &f.Index); err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	levelCount := int(f.Header.LevelCount)
	if levelCount == 0 {
		levelCount = 1
	}
	if levelCount > 32 {
		return nil, fmt.Errorf("invalid level count %d", f.Header.LevelCount)
	}
	f.Levels = make([]KTX2Level, levelCount)
	if err := binary.Read(r, binary.LittleEndian, f.Levels); err != nil {
		return nil, fmt.Errorf("read level index: %w", err)
	}

	size := uint64(len(data))
	for i, l := range f.Levels {
		if l.ByteOffset > size || l.ByteLength > size-l.ByteOffset {
			return nil, fmt.Errorf("level %d out of bounds: offset %d length %d", i, l.ByteOffset, l.ByteLength)
		}
	}
	if uint64(f.Index.DFDByteOffset)+uint64(f.Index.DFDByteLength) > size {
		return nil, errors.New("data format descriptor out of bounds")
	}
	if uint64(f.Index.KVDByteOffset)+uint64(f.Index.KVDByteLength) > size {
		return nil, errors.New("key/value data out of bounds")
	}

	return f, nil
}

// rgb9e5DFD builds the basic data format descriptor for E5B9G9R9_UFLOAT_PACK32:
// one mantissa and one exponent sample per color channel.
func rgb9e5DFD() []byte {
	const samples = 6
	blockSize := dfdBasicBlockSize + samples*dfdSampleSize

	le := binary.LittleEndian
	buf := make([]byte, 0, 4+blockSize)
	buf = le.AppendUint32(buf, uint32(4+blockSize))
	buf = le.AppendUint32(buf, 0) // Khronos vendor, basic descriptor type.
	buf = le.AppendUint32(buf, uint32(blockSize)<<16|dfdVersion)
	buf = append(buf, dfdModelRGBSDA, dfdPrimariesBT709, dfdTransferLinear, 0)
	buf = append(buf, 0, 0, 0, 0)             // 1x1x1x1 texel block.
	buf = append(buf, 4, 0, 0, 0, 0, 0, 0, 0) // bytesPlane0..7.

	sample := func(bitOffset, bitLength int, channelType byte, lower, upper uint32) {
		buf = le.AppendUint16(buf, uint16(bitOffset))
		buf = append(buf, byte(bitLength-1), channelType)
		buf = append(buf, 0, 0, 0, 0) // samplePosition.
		buf = le.AppendUint32(buf, lower)
		buf = le.AppendUint32(buf, upper)
	}
	for i, ch := range []byte{dfdChannelR, dfdChannelG, dfdChannelB} {
		sample(i*rgb9e5MantissaBits, rgb9e5MantissaBits, ch, 0, 8448)
		sample(3*rgb9e5MantissaBits, 5, ch|dfdQualifierExponent, rgb9e5ExpBias, rgb9e5MaxBiasedExp)
	}

	return buf
}

func alignUp(v, a int) int {
	return (v + a - 1) / a * a
}

func lcm(a, b int) int {
	x, y := a, b
	for y != 0 {
		x, y = y, x%y
	}
	return a / x * b
}
