package background

import (
	"fmt"

	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
	"github.com/yeti47/cryospy/client/motion-recorder/frame"
	"github.com/yeti47/cryospy/client/motion-recorder/resolution"
	"gocv.io/x/gocv"
)

const (
	maskForeground = 255
	maskBackground = 0
)

// Model classifies every pixel of a frame as background or foreground and learns
// from the frame in the same call.
type Model interface {
	// Classify returns the foreground mask of f: a single channel 8 bit image of
	// the frame's size where 255 marks foreground. The mask is owned by the model
	// and stays valid until the next call.
	Classify(f *frame.Frame) gocv.Mat
	Close() error
}

// pixelStrategy holds the per pixel statistics of one background algorithm.
type pixelStrategy interface {
	reset(pixels int)
	// apply classifies gray into mask and updates the statistics. Foreground pixels
	// learn at rate*fgFactor. While warming every pixel learns at the full rate.
	apply(gray, mask []byte, rate, fgFactor float64, warming bool)
}

// AdaptiveModel runs a pixelStrategy over grayscale versions of the incoming frames.
type AdaptiveModel struct {
	settings Settings
	strategy pixelStrategy
	rate     float64
	gray     gocv.Mat
	mask     gocv.Mat
	dims     resolution.Resolution
	seen     int
	logger   logging.Logger
}

// New creates a model using the strategy named in settings.
func New(settings Settings, logger logging.Logger) (*AdaptiveModel, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid background settings: %w", err)
	}

	m := &AdaptiveModel{
		settings: settings,
		strategy: newPixelStrategy(settings),
		rate:     settings.learningRate(),
		gray:     gocv.NewMat(),
		mask:     gocv.NewMat(),
		logger:   logging.OrNop(logger),
	}

	m.logger.Info("Background model created",
		"strategy", string(settings.Strategy),
		"history", settings.HistoryLength,
		"threshold", settings.VarianceThreshold,
		"learning_rate", m.rate,
		"foreground_factor", settings.ForegroundLearningFactor,
	)
	return m, nil
}

func newPixelStrategy(s Settings) pixelStrategy {
	if s.Strategy == StrategyMixture {
		return newMixture(s.MixtureComponents, s.VarianceThreshold)
	}
	return newHistory(s.HistoryLength, s.KNNSamples, s.VarianceThreshold, s.Seed)
}

func (m *AdaptiveModel) Classify(f *frame.Frame) gocv.Mat {
	if dims := f.Dimensions(); dims != m.dims {
		m.resize(dims)
	}

	f.GrayInto(&m.gray)

	gray, err := m.gray.DataPtrUint8()
	if err != nil {
		m.logger.Error("Failed to access grayscale pixels", "frame", f.Index(), "error", err)
		return m.mask
	}
	mask, err := m.mask.DataPtrUint8()
	if err != nil {
		m.logger.Error("Failed to access mask pixels", "frame", f.Index(), "error", err)
		return m.mask
	}

	m.update(gray, mask)
	return m.mask
}

func (m *AdaptiveModel) update(gray, mask []byte) {
	warming := m.seen < m.settings.HistoryLength
	m.strategy.apply(gray, mask, m.rate, m.settings.ForegroundLearningFactor, warming)
	if m.seen < m.settings.HistoryLength {
		m.seen++
		if m.seen == m.settings.HistoryLength {
			m.logger.Debug("Background model warmed up", "frames", m.seen)
		}
	}
}

// Warm reports whether the model has seen enough frames to produce foreground.
func (m *AdaptiveModel) Warm() bool {
	return m.seen >= m.settings.HistoryLength
}

// resize drops all learned statistics; the model warms up again at the new size.
func (m *AdaptiveModel) resize(dims resolution.Resolution) {
	if !m.dims.IsEmpty() {
		m.logger.Warn("Frame size changed, resetting background model", "from", m.dims.String(), "to", dims.String())
	}
	m.mask.Close()
	m.mask = gocv.NewMatWithSize(dims.Height, dims.Width, gocv.MatTypeCV8UC1)
	m.strategy.reset(dims.Pixels())
	m.dims = dims
	m.seen = 0
}

func (m *AdaptiveModel) Close() error {
	m.gray.Close()
	return m.mask.Close()
}
