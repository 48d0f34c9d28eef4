package session

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"

	"imgpress/internal/encoder"
)

const (
	// DefaultQuality is the quality applied when a new source is loaded.
	DefaultQuality = 80

	// DefaultFormat is the output format applied when a new source is loaded.
	DefaultFormat = encoder.FormatJPEG
)

var (
	// ErrNotAnImage is returned when the declared media type of an uploaded
	// file is not an image type.
	ErrNotAnImage = errors.New("file is not an image")

	// ErrNoSource is returned by operations that require a loaded source image.
	ErrNoSource = errors.New("no source image loaded")
)

// SourceImage is the originally uploaded image. It is immutable once loaded
// and replaced wholesale on the next load.
type SourceImage struct {
	Name      string
	MediaType string
	Width     int
	Height    int
	Size      int64
	Pixels    image.Image
}

// OutputParameters are the user-chosen encode settings.
type OutputParameters struct {
	Quality      int
	Format       encoder.Format
	TargetWidth  int
	TargetHeight int
	AspectLocked bool
}

// EncodedResult is the output of the last successful encode.
type EncodedResult struct {
	Data           []byte
	Size           int64
	SavingsPercent int
}

// Snapshot is a point-in-time copy of the state used to issue an encode.
// Gen identifies the source-image generation the snapshot was taken from;
// results computed against an older generation must not be applied.
type Snapshot struct {
	Source *SourceImage
	Params OutputParameters
	Gen    uint64
}

// State is the authoritative record of the current source image, the output
// parameters, and the most recent encode result. All mutation goes through
// validated operations; the zero-value-like initial condition holds no image.
type State struct {
	mu             sync.Mutex
	defaultQuality int
	defaultFormat  encoder.Format
	source         *SourceImage
	ratio          float64
	params         OutputParameters
	result         *EncodedResult
	gen            uint64
}

// NewState returns a State in the no-image initial condition with the
// standard defaults (quality 80, jpeg).
func NewState() *State {
	return NewStateWithDefaults(DefaultQuality, DefaultFormat)
}

// NewStateWithDefaults returns a State whose per-load default output
// parameters are the given quality and format.
func NewStateWithDefaults(quality int, format encoder.Format) *State {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	if format == "" {
		format = DefaultFormat
	}
	return &State{defaultQuality: quality, defaultFormat: format}
}

// LoadSource validates and decodes an uploaded file and installs it as the
// current source image. A non-image media type is rejected with ErrNotAnImage
// and leaves any previously loaded source untouched. On success the output
// parameters are reset to defaults and any prior encode result is discarded.
func (s *State) LoadSource(dec encoder.Encoder, name, mediaType string, data []byte) (*SourceImage, error) {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/") {
		return nil, fmt.Errorf("%w: %s", ErrNotAnImage, mediaType)
	}

	img, err := dec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}

	bounds := img.Bounds()
	src := &SourceImage{
		Name:      name,
		MediaType: mediaType,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Size:      int64(len(data)),
		Pixels:    img,
	}
	if src.Width < 1 || src.Height < 1 {
		return nil, fmt.Errorf("%w: empty image", ErrNotAnImage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
	s.gen++
	s.ratio = float64(src.Width) / float64(src.Height)
	s.params = OutputParameters{
		Quality:      s.defaultQuality,
		Format:       s.defaultFormat,
		TargetWidth:  src.Width,
		TargetHeight: src.Height,
		AspectLocked: true,
	}
	s.result = nil
	return src, nil
}

// SetQuality stores the quality setting, clamped to 1-100.
func (s *State) SetQuality(q int) {
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	s.mu.Lock()
	s.params.Quality = q
	s.mu.Unlock()
}

// SetFormat stores the output format. Unknown format names are rejected. The
// quality setting is kept as-is even for lossless formats.
func (s *State) SetFormat(name string) (encoder.Format, error) {
	f, err := encoder.ParseFormat(name)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.params.Format = f
	s.mu.Unlock()
	return f, nil
}

// SetTargetWidth stores the target width. Non-positive input falls back to
// the source width. While aspect-locked, the target height is recomputed from
// the source aspect ratio, never below 1.
func (s *State) SetTargetWidth(w int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return ErrNoSource
	}
	if w < 1 {
		w = s.source.Width
	}
	s.params.TargetWidth = w
	if s.params.AspectLocked {
		s.params.TargetHeight = snapDimension(float64(w) / s.ratio)
	}
	return nil
}

// SetTargetHeight stores the target height, mirroring SetTargetWidth.
func (s *State) SetTargetHeight(h int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return ErrNoSource
	}
	if h < 1 {
		h = s.source.Height
	}
	s.params.TargetHeight = h
	if s.params.AspectLocked {
		s.params.TargetWidth = snapDimension(float64(h) * s.ratio)
	}
	return nil
}

// SetAspectLocked toggles dimension coupling for future edits. Current target
// dimensions are not resnapped.
func (s *State) SetAspectLocked(locked bool) {
	s.mu.Lock()
	s.params.AspectLocked = locked
	s.mu.Unlock()
}

// Reset restores the no-image initial condition.
func (s *State) Reset() {
	s.mu.Lock()
	s.source = nil
	s.gen++
	s.ratio = 0
	s.params = OutputParameters{}
	s.result = nil
	s.mu.Unlock()
}

// Loaded reports whether a source image is present.
func (s *State) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source != nil
}

// Source returns the current source image, or nil.
func (s *State) Source() *SourceImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Params returns a copy of the current output parameters.
func (s *State) Params() OutputParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Result returns the most recent encode result, or nil.
func (s *State) Result() *EncodedResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// SetResult installs a new encode result.
func (s *State) SetResult(r *EncodedResult) {
	s.mu.Lock()
	s.result = r
	s.mu.Unlock()
}

// SetResultForGeneration installs r only while gen still matches the state
// generation. A result computed before a reset or a reload is rejected, so a
// discarded EncodedResult can never resurrect into the fresh state.
func (s *State) SetResultForGeneration(gen uint64, r *EncodedResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.result = r
	return true
}

// AspectRatio returns the source width/height ratio, or 0 with no source.
func (s *State) AspectRatio() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ratio
}

// TakeSnapshot copies the fields an encode request depends on.
func (s *State) TakeSnapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return Snapshot{}, ErrNoSource
	}
	return Snapshot{Source: s.source, Params: s.params, Gen: s.gen}, nil
}

// snapDimension rounds a derived dimension to the nearest integer, clamping
// at 1 so a locked recompute can never produce 0.
func snapDimension(v float64) int {
	n := int(math.Round(v))
	if n < 1 {
		n = 1
	}
	return n
}
