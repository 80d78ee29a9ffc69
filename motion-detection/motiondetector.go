package motiondetection

import (
	"fmt"
	"image"

	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
	"github.com/yeti47/cryospy/client/motion-recorder/resolution"
	"gocv.io/x/gocv"
)

// Decision is the result of scoring one foreground mask.
type Decision struct {
	IsMotion bool
	Score    int
}

type MotionDetector interface {
	// Score turns a foreground mask into a motion decision.
	Score(mask gocv.Mat) Decision
}

// GoCVMotionDetector removes speckle noise from the mask and reduces what is left to
// a single score. It keeps scratch buffers between calls but no state that affects
// the result.
type GoCVMotionDetector struct {
	settings  MotionDetectionSettings
	threshold int
	kernel    gocv.Mat
	blurred   gocv.Mat
	opened    gocv.Mat
	logger    logging.Logger
}

// NewGoCVMotionDetector creates a detector for frames of size dims. dims is only used
// to scale the sensitivity when ScaleSensitivity is set.
func NewGoCVMotionDetector(settings MotionDetectionSettings, dims resolution.Resolution, logger logging.Logger) (*GoCVMotionDetector, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid motion detection settings: %w", err)
	}
	mode, _ := ParseScoreMode(string(settings.Mode))
	settings.Mode = mode

	d := &GoCVMotionDetector{
		settings:  settings,
		threshold: EffectiveSensitivity(settings, dims),
		kernel:    gocv.NewMat(),
		blurred:   gocv.NewMat(),
		opened:    gocv.NewMat(),
		logger:    logging.OrNop(logger),
	}
	if settings.OpenKernelSize > 0 {
		d.kernel.Close()
		d.kernel = gocv.GetStructuringElement(gocv.MorphRect, image.Pt(settings.OpenKernelSize, settings.OpenKernelSize))
	}

	d.logger.Info("Motion detector created",
		"mode", string(settings.Mode),
		"sensitivity", settings.Sensitivity,
		"effective_sensitivity", d.threshold,
		"median_blur", settings.MedianBlurSize,
		"open_kernel", settings.OpenKernelSize,
	)
	return d, nil
}

// EffectiveSensitivity returns the score threshold for frames of size dims. The default
// sensitivity was tuned at 1280x720.
func EffectiveSensitivity(settings MotionDetectionSettings, dims resolution.Resolution) int {
	if !settings.ScaleSensitivity || !dims.Valid() {
		return settings.Sensitivity
	}
	return int(float64(settings.Sensitivity) * float64(dims.Pixels()) / float64(resolution.Reference.Pixels()))
}

// Threshold returns the score a mask must exceed to count as motion.
func (d *GoCVMotionDetector) Threshold() int {
	return d.threshold
}

func (d *GoCVMotionDetector) Score(mask gocv.Mat) Decision {
	if mask.Empty() {
		return Decision{}
	}

	filtered := d.denoise(mask)

	var score int
	switch d.settings.Mode {
	case ScoreModeLargestRegion:
		score = largestRegion(filtered)
	default:
		score = gocv.CountNonZero(filtered)
	}

	return Decision{IsMotion: score > d.threshold, Score: score}
}

// denoise applies the median filter and the morphological opening. Both remove
// isolated foreground pixels.
func (d *GoCVMotionDetector) denoise(mask gocv.Mat) gocv.Mat {
	current := mask
	if d.settings.MedianBlurSize > 0 {
		gocv.MedianBlur(current, &d.blurred, d.settings.MedianBlurSize)
		current = d.blurred
	}
	if d.settings.OpenKernelSize > 0 {
		gocv.MorphologyEx(current, &d.opened, gocv.MorphOpen, d.kernel)
		current = d.opened
	}
	return current
}

func largestRegion(mask gocv.Mat) int {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	largest := 0.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > largest {
			largest = area
		}
	}
	return int(largest)
}

func (d *GoCVMotionDetector) Close() error {
	d.kernel.Close()
	d.blurred.Close()
	return d.opened.Close()
}
