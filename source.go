package rgb9e5ktx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Handle identifies one decode request submitted to an ImageSource.
type Handle uint64

// ImageState is the progress of a decode request.
type ImageState int

const (
	// ImageNotReady means the decode is still in progress.
	ImageNotReady ImageState = iota
	// ImageReady means the decoded image is available.
	ImageReady
	// ImageFailed means the image could not be decoded.
	ImageFailed
)

func (s ImageState) String() string {
	switch s {
	case ImageNotReady:
		return "not ready"
	case ImageReady:
		return "ready"
	case ImageFailed:
		return "failed"
	default:
		return fmt.Sprintf("ImageState(%d)", int(s))
	}
}

// ImageStatus is the result of polling a Handle.
// Image is set only when State is ImageReady, Err only when State is ImageFailed.
type ImageStatus struct {
	State ImageState
	Image *DecodedImage
	Err   error
}

// ImageSource resolves image paths asynchronously.
//
// Submit must not block. Poll must return immediately, and once it reports
// ImageReady or ImageFailed every later Poll of the same handle returns the same value.
//
// A source that also has a Release(Handle) method is told when a job no longer needs
// the handle's result.
type ImageSource interface {
	Submit(path string) Handle
	Poll(h Handle) ImageStatus
}

type releaser interface {
	Release(h Handle)
}

// DecodeFunc turns an encoded file into a decoded image.
type DecodeFunc func(data []byte) (*DecodedImage, error)

var (
	// ErrUnknownHandle is reported when polling a handle the source never issued.
	ErrUnknownHandle = errors.New("unknown image handle")
	// ErrUnsupportedSource is reported for file extensions without a registered decoder.
	ErrUnsupportedSource = errors.New("unsupported source image type")
	// ErrImageTooLarge is returned when header dimensions overflow or exceed what the payload can hold.
	ErrImageTooLarge = errors.New("image dimensions too large")
)

// checkSourceSize validates header dimensions before any pixel buffer is allocated.
// payload is the number of encoded bytes and pixelsPerByte the best compression ratio the format allows.
func checkSourceSize(width, height, payload, pixelsPerByte int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}
	if width > maxSourcePixels/height {
		return fmt.Errorf("%w: %dx%d", ErrImageTooLarge, width, height)
	}
	if width*height > payload*pixelsPerByte {
		return fmt.Errorf("%w: %dx%d from %d bytes", ErrImageTooLarge, width, height, payload)
	}
	return nil
}

var (
	decodersMu sync.RWMutex
	decoders   = map[string]DecodeFunc{
		".exr":  DecodeEXR,
		".hdr":  DecodeRadiance,
		".pic":  DecodeRadiance,
		".tif":  DecodeTIFF,
		".tiff": DecodeTIFF,
		".ktx2": DecodeKTX2,
	}
)

// RegisterDecoder makes fn handle files with extension ext (for example ".exr").
// A later registration for the same extension replaces the earlier one.
func RegisterDecoder(ext string, fn DecodeFunc) {
	decodersMu.Lock()
	defer decodersMu.Unlock()

	decoders[strings.ToLower(ext)] = fn
}

func decoderFor(path string) (DecodeFunc, error) {
	ext := strings.ToLower(filepath.Ext(path))

	decodersMu.RLock()
	defer decodersMu.RUnlock()

	fn, ok := decoders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, ext)
	}
	return fn, nil
}

// DecodeFile reads path and decodes it with the decoder registered for its extension.
func DecodeFile(path string) (*DecodedImage, error) {
	fn, err := decoderFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	img, err := fn(data)
	if err != nil {
		return nil, err
	}
	if err := validateDecoded(img); err != nil {
		return nil, err
	}
	return img, nil
}

func validateDecoded(img *DecodedImage) error {
	if img == nil {
		return errors.New("decoder returned no image")
	}
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", img.Width, img.Height)
	}
	if len(img.Levels) == 0 {
		return errors.New("image has no mip levels")
	}
	for i, lvl := range img.Levels {
		w, h := LevelSize(img.Width, img.Height, i)
		if len(lvl) != w*h*4 {
			return fmt.Errorf("mip level %d holds %d samples, want %d", i, len(lvl), w*h*4)
		}
	}
	return nil
}

// FileSourceOptions configures a FileSource.
type FileSourceOptions struct {
	// Workers limits concurrent decodes, defaults to GOMAXPROCS.
	Workers int
	// Decode replaces the extension based decoder lookup.
	Decode func(path string) (*DecodedImage, error)
}

// FileSource decodes files from the local file system on background goroutines.
type FileSource struct {
	decode func(path string) (*DecodedImage, error)
	sem    chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	next    Handle
	results map[Handle]ImageStatus
}

var (
	_ ImageSource = (*FileSource)(nil)
	_ releaser    = (*FileSource)(nil)
)

// NewFileSource creates a file backed ImageSource.
func NewFileSource(opts ...func(o *FileSourceOptions)) *FileSource {
	opt := FileSourceOptions{
		Workers: runtime.GOMAXPROCS(0),
		Decode:  DecodeFile,
	}
	for _, applyOpt := range opts {
		applyOpt(&opt)
	}
	if opt.Workers < 1 {
		opt.Workers = 1
	}

	return &FileSource{
		decode:  opt.Decode,
		sem:     make(chan struct{}, opt.Workers),
		results: make(map[Handle]ImageStatus),
	}
}

// Submit schedules path for decoding and returns immediately.
func (s *FileSource) Submit(path string) Handle {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	s.mu.Lock()
	s.next++
	h := s.next
	s.results[h] = ImageStatus{State: ImageNotReady}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		st := s.load(path)

		s.mu.Lock()
		s.results[h] = st
		s.mu.Unlock()
	}()

	return h
}

// load decodes path, turning a decoder panic into a failed status.
func (s *FileSource) load(path string) (st ImageStatus) {
	defer func() {
		if r := recover(); r != nil {
			st = ImageStatus{State: ImageFailed, Err: fmt.Errorf("decode %s: panic: %v", path, r)}
		}
	}()

	img, err := s.decode(path)
	if err == nil {
		err = validateDecoded(img)
	}
	if err != nil {
		return ImageStatus{State: ImageFailed, Err: fmt.Errorf("decode %s: %w", path, err)}
	}

	Logger().Debug("source decoded", "path", path,
		"width", img.Width, "height", img.Height, "mips", img.MipCount(), "format", img.Format.String())

	return ImageStatus{State: ImageReady, Image: img}
}

// Poll reports the current state of h without blocking.
func (s *FileSource) Poll(h Handle) ImageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.results[h]
	if !ok {
		return ImageStatus{State: ImageFailed, Err: fmt.Errorf("%w: %d", ErrUnknownHandle, h)}
	}
	return st
}

// Release forgets the result of h so its decoded image can be collected.
// Later polls of h report ErrUnknownHandle. Releasing a handle that is still decoding is a no-op.
func (s *FileSource) Release(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.results[h]; ok && st.State != ImageNotReady {
		delete(s.results, h)
	}
}

// Close waits for in-flight decodes to finish.
func (s *FileSource) Close() error {
	s.wg.Wait()
	return nil
}
