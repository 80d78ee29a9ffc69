package clipwriter

import (
	"errors"
	"fmt"
	"time"

	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
	filemanagement "github.com/yeti47/cryospy/client/motion-recorder/file-management"
	"github.com/yeti47/cryospy/client/motion-recorder/frame"
	"github.com/yeti47/cryospy/client/motion-recorder/resolution"
)

// DefaultFilenameLayout names clips after their start time.
const DefaultFilenameLayout = "2006-01-02_15-04-05"

var (
	ErrNoUsableCodec = errors.New("no usable codec in fallback list")
	ErrFrameMismatch = errors.New("frame dimensions do not match clip")
	ErrHandleClosed  = errors.New("clip handle is closed")
)

type Options struct {
	Files          filemanagement.FileTracker
	FilenameLayout string
	Fallback       FallbackList
	Factory        EncoderFactory // defaults to GoCVEncoderFactory
	Logger         logging.Logger
}

// Writer opens clips using the first entry of its fallback list that works.
type Writer struct {
	files    filemanagement.FileTracker
	layout   string
	fallback FallbackList
	factory  EncoderFactory
	logger   logging.Logger
}

func NewWriter(opts Options) (*Writer, error) {
	if opts.Files == nil {
		return nil, errors.New("clip writer needs a file tracker")
	}
	fallback := opts.Fallback.Normalize()
	if err := fallback.Validate(); err != nil {
		return nil, err
	}
	layout := opts.FilenameLayout
	if layout == "" {
		layout = DefaultFilenameLayout
	}
	factory := opts.Factory
	if factory == nil {
		factory = GoCVEncoderFactory{}
	}
	return &Writer{
		files:    opts.Files,
		layout:   layout,
		fallback: fallback,
		factory:  factory,
		logger:   logging.OrNop(opts.Logger),
	}, nil
}

// Open creates a new clip for frames of size dims. The fallback list is walked from
// the top on every call; the first entry whose encoder opens wins. When no entry
// works the returned error wraps ErrNoUsableCodec and every individual failure.
func (w *Writer) Open(dims resolution.Resolution, fps float64, startedAt time.Time) (*Handle, error) {
	if !dims.Valid() {
		return nil, fmt.Errorf("invalid clip dimensions %s", dims)
	}

	stem := startedAt.Format(w.layout)
	var errs []error
	for _, entry := range w.fallback {
		path, err := w.files.NextFreePath(stem, entry.Extension)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry, err))
			continue
		}

		encoder, err := w.factory.OpenEncoder(path, entry, fps, dims)
		if err != nil {
			// OpenCV may leave an empty file behind.
			w.files.DeleteFile(path)
			w.logger.Warn("Codec unavailable, trying next fallback entry", "entry", entry.String(), "path", path, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", entry, err))
			continue
		}

		w.logger.Info("Clip opened", "path", path, "entry", entry.String(), "resolution", dims.String(), "fps", fps)
		return &Handle{
			path:    path,
			entry:   entry,
			dims:    dims,
			encoder: encoder,
			logger:  w.logger,
		}, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrNoUsableCodec, errors.Join(errs...))
}

// Handle is an open clip. It is not safe for concurrent use.
type Handle struct {
	path    string
	entry   Entry
	dims    resolution.Resolution
	encoder Encoder
	frames  int
	closed  bool
	logger  logging.Logger
}

func (h *Handle) Path() string {
	return h.path
}

func (h *Handle) Entry() Entry {
	return h.entry
}

// Frames returns the number of frames written so far.
func (h *Handle) Frames() int {
	return h.frames
}

func (h *Handle) Closed() bool {
	return h.closed
}

// Write appends f to the clip. f must have the dimensions the clip was opened with.
func (h *Handle) Write(f *frame.Frame) error {
	if h.closed {
		return ErrHandleClosed
	}
	if dims := f.Dimensions(); dims != h.dims {
		return fmt.Errorf("%w: got %s, clip is %s", ErrFrameMismatch, dims, h.dims)
	}
	if err := h.encoder.Write(f); err != nil {
		return fmt.Errorf("failed to write frame %d to %s: %w", f.Index(), h.path, err)
	}
	h.frames++
	return nil
}

// Close finalizes the clip. Only the first call reaches the encoder; later calls
// return ErrHandleClosed.
func (h *Handle) Close() error {
	if h.closed {
		return ErrHandleClosed
	}
	h.closed = true

	if err := h.encoder.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", h.path, err)
	}
	h.logger.Info("Clip closed", "path", h.path, "frames", h.frames)
	return nil
}
