package background

import (
	"fmt"
	"strings"
)

type Strategy string

const (
	// StrategyMixture keeps a small mixture of gaussians per pixel.
	StrategyMixture Strategy = "mixture"
	// StrategyHistory keeps the last samples per pixel and compares against its neighbours.
	StrategyHistory Strategy = "history"
)

// ParseStrategy accepts the strategy names used in the configuration file.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyMixture, "mog2", "gaussian":
		return StrategyMixture, nil
	case StrategyHistory, "knn":
		return StrategyHistory, nil
	default:
		return "", fmt.Errorf("unknown background strategy: %q", s)
	}
}

type Settings struct {
	Strategy                 Strategy
	HistoryLength            int     // frames the model remembers; also the warm-up length
	VarianceThreshold        float64 // mixture: squared Mahalanobis distance; history: squared distance in gray levels
	LearningRate             float64 // 0 means 1/HistoryLength
	ForegroundLearningFactor float64 // fraction of the learning rate applied to foreground pixels
	MixtureComponents        int
	KNNSamples               int    // neighbours needed to call a pixel background
	Seed                     uint64 // seeds the sample replacement of the history strategy
}

var DefaultMixtureSettings = Settings{
	Strategy:                 StrategyMixture,
	HistoryLength:            50,
	VarianceThreshold:        20,
	ForegroundLearningFactor: 0.1,
	MixtureComponents:        3,
	KNNSamples:               2,
	Seed:                     1,
}

var DefaultHistorySettings = Settings{
	Strategy:                 StrategyHistory,
	HistoryLength:            20,
	VarianceThreshold:        800,
	ForegroundLearningFactor: 0.1,
	MixtureComponents:        3,
	KNNSamples:               2,
	Seed:                     1,
}

// DefaultSettings returns the defaults for strategy.
func DefaultSettings(strategy Strategy) Settings {
	if strategy == StrategyMixture {
		return DefaultMixtureSettings
	}
	return DefaultHistorySettings
}

func (s Settings) Validate() error {
	if s.Strategy != StrategyMixture && s.Strategy != StrategyHistory {
		return fmt.Errorf("unknown background strategy: %q", s.Strategy)
	}
	if s.HistoryLength < 1 {
		return fmt.Errorf("history length must be at least 1, got %d", s.HistoryLength)
	}
	if s.HistoryLength > 65535 {
		return fmt.Errorf("history length must not exceed 65535, got %d", s.HistoryLength)
	}
	if s.VarianceThreshold <= 0 {
		return fmt.Errorf("variance threshold must be positive, got %g", s.VarianceThreshold)
	}
	if s.LearningRate < 0 || s.LearningRate > 1 {
		return fmt.Errorf("learning rate must be within [0, 1], got %g", s.LearningRate)
	}
	if s.ForegroundLearningFactor < 0 || s.ForegroundLearningFactor > 1 {
		return fmt.Errorf("foreground learning factor must be within [0, 1], got %g", s.ForegroundLearningFactor)
	}
	if s.Strategy == StrategyMixture && (s.MixtureComponents < 1 || s.MixtureComponents > 8) {
		return fmt.Errorf("mixture components must be within [1, 8], got %d", s.MixtureComponents)
	}
	if s.Strategy == StrategyHistory && (s.KNNSamples < 1 || s.KNNSamples > s.HistoryLength) {
		return fmt.Errorf("knn samples must be within [1, %d], got %d", s.HistoryLength, s.KNNSamples)
	}
	return nil
}

func (s Settings) learningRate() float64 {
	if s.LearningRate > 0 {
		return s.LearningRate
	}
	return 1 / float64(s.HistoryLength)
}
