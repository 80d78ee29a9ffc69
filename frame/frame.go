package frame

import (
	"errors"
	"time"

	"github.com/yeti47/cryospy/client/motion-recorder/resolution"
	"gocv.io/x/gocv"
)

var ErrEmptyFrame = errors.New("frame is empty")

// Frame is one captured image together with its arrival index and capture time.
// Components receive frames by pointer for the duration of one tick and must not
// modify the pixel data.
type Frame struct {
	index     int64
	timestamp time.Time
	mat       gocv.Mat
}

// New wraps mat. The frame takes ownership of mat and releases it on Close.
func New(index int64, timestamp time.Time, mat gocv.Mat) (*Frame, error) {
	if mat.Empty() {
		return nil, ErrEmptyFrame
	}
	return &Frame{index: index, timestamp: timestamp, mat: mat}, nil
}

func (f *Frame) Index() int64 {
	return f.index
}

func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// Mat returns the underlying BGR image.
func (f *Frame) Mat() gocv.Mat {
	return f.mat
}

func (f *Frame) Width() int {
	return f.mat.Cols()
}

func (f *Frame) Height() int {
	return f.mat.Rows()
}

func (f *Frame) Dimensions() resolution.Resolution {
	return resolution.Resolution{Width: f.Width(), Height: f.Height()}
}

// GrayInto writes the single channel grayscale version of the frame to dst.
// Frames that already have one channel are copied as they are.
func (f *Frame) GrayInto(dst *gocv.Mat) {
	if f.mat.Channels() == 1 {
		f.mat.CopyTo(dst)
		return
	}
	gocv.CvtColor(f.mat, dst, gocv.ColorBGRToGray)
}

// Gray returns a new grayscale frame with the same index and timestamp.
// The caller owns the returned frame.
func (f *Frame) Gray() (*Frame, error) {
	gray := gocv.NewMat()
	f.GrayInto(&gray)
	return New(f.index, f.timestamp, gray)
}

func (f *Frame) Close() error {
	return f.mat.Close()
}
