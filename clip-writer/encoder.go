package clipwriter

import (
	"fmt"

	"github.com/yeti47/cryospy/client/motion-recorder/frame"
	"github.com/yeti47/cryospy/client/motion-recorder/resolution"
	"gocv.io/x/gocv"
)

// Encoder appends frames to one open video file.
type Encoder interface {
	Write(f *frame.Frame) error
	Close() error
}

// EncoderFactory opens an encoder for path using entry's codec. An error means the
// combination is not usable on this system.
type EncoderFactory interface {
	OpenEncoder(path string, entry Entry, fps float64, dims resolution.Resolution) (Encoder, error)
}

// GoCVEncoderFactory opens encoders through OpenCV's VideoWriter.
type GoCVEncoderFactory struct{}

func (GoCVEncoderFactory) OpenEncoder(path string, entry Entry, fps float64, dims resolution.Resolution) (Encoder, error) {
	writer, err := gocv.VideoWriterFile(path, entry.Codec, fps, dims.Width, dims.Height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create video writer: %w", err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("video writer for codec %s in %s container could not be opened", entry.Codec, entry.Container)
	}
	return &gocvEncoder{writer: writer}, nil
}

type gocvEncoder struct {
	writer *gocv.VideoWriter
}

func (e *gocvEncoder) Write(f *frame.Frame) error {
	return e.writer.Write(f.Mat())
}

func (e *gocvEncoder) Close() error {
	return e.writer.Close()
}
