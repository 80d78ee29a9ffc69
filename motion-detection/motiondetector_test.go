package motiondetection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeti47/cryospy/client/motion-recorder/resolution"
	"gocv.io/x/gocv"
)

const (
	maskWidth  = 64
	maskHeight = 48
)

type rect struct{ x, y, w, h int }

func newMask(t *testing.T, rects ...rect) gocv.Mat {
	t.Helper()
	mask := gocv.NewMatWithSize(maskHeight, maskWidth, gocv.MatTypeCV8UC1)
	data, err := mask.DataPtrUint8()
	require.NoError(t, err)
	for i := range data {
		data[i] = 0
	}
	for _, r := range rects {
		for y := r.y; y < r.y+r.h; y++ {
			for x := r.x; x < r.x+r.w; x++ {
				data[y*maskWidth+x] = 255
			}
		}
	}
	return mask
}

func newDetector(t *testing.T, settings MotionDetectionSettings) *GoCVMotionDetector {
	t.Helper()
	d, err := NewGoCVMotionDetector(settings, resolution.Resolution{Width: maskWidth, Height: maskHeight}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestScore_EmptyMaskIsNoMotion(t *testing.T) {
	d := newDetector(t, MotionDetectionSettings{Sensitivity: 0, Mode: ScoreModePixels, MedianBlurSize: 5})
	mask := newMask(t)
	defer mask.Close()

	assert.Equal(t, Decision{IsMotion: false, Score: 0}, d.Score(mask))
}

func TestScore_MedianBlurRemovesIsolatedPixels(t *testing.T) {
	d := newDetector(t, MotionDetectionSettings{Sensitivity: 0, Mode: ScoreModePixels, MedianBlurSize: 5})
	mask := newMask(t, rect{5, 5, 1, 1}, rect{30, 20, 1, 1}, rect{50, 40, 1, 1})
	defer mask.Close()

	decision := d.Score(mask)
	assert.False(t, decision.IsMotion)
	assert.Zero(t, decision.Score)
}

func TestScore_OpeningRemovesThinLines(t *testing.T) {
	d := newDetector(t, MotionDetectionSettings{Sensitivity: 0, Mode: ScoreModePixels, OpenKernelSize: 3})
	mask := newMask(t, rect{2, 10, 40, 1})
	defer mask.Close()

	assert.Zero(t, d.Score(mask).Score)
}

func TestScore_BlockSurvivesNoiseFloor(t *testing.T) {
	d := newDetector(t, MotionDetectionSettings{Sensitivity: 300, Mode: ScoreModePixels, MedianBlurSize: 5, OpenKernelSize: 3})
	mask := newMask(t, rect{10, 10, 20, 20}, rect{50, 5, 1, 1})
	defer mask.Close()

	decision := d.Score(mask)
	assert.True(t, decision.IsMotion)
	assert.InDelta(t, 400, decision.Score, 30)
}

func TestScore_ThresholdIsExclusive(t *testing.T) {
	mask := newMask(t, rect{0, 0, 10, 10})
	defer mask.Close()

	atThreshold := newDetector(t, MotionDetectionSettings{Sensitivity: 100, Mode: ScoreModePixels})
	assert.Equal(t, Decision{IsMotion: false, Score: 100}, atThreshold.Score(mask))

	belowThreshold := newDetector(t, MotionDetectionSettings{Sensitivity: 99, Mode: ScoreModePixels})
	assert.Equal(t, Decision{IsMotion: true, Score: 100}, belowThreshold.Score(mask))
}

func TestScore_LargestRegion(t *testing.T) {
	d := newDetector(t, MotionDetectionSettings{Sensitivity: 50, Mode: ScoreModeLargestRegion})
	mask := newMask(t, rect{2, 2, 10, 10}, rect{30, 30, 5, 5})
	defer mask.Close()

	decision := d.Score(mask)
	// Contour area is measured between the outer pixel centres: (10-1)^2.
	assert.Equal(t, 81, decision.Score)
	assert.True(t, decision.IsMotion)
}

func TestEffectiveSensitivity(t *testing.T) {
	s := MotionDetectionSettings{Sensitivity: 700, ScaleSensitivity: true}

	assert.Equal(t, 700, EffectiveSensitivity(s, resolution.Resolution720p()))
	assert.Equal(t, 233, EffectiveSensitivity(s, resolution.Resolution480p()))
	assert.Equal(t, 1575, EffectiveSensitivity(s, resolution.Resolution1080p()))
	assert.Equal(t, 700, EffectiveSensitivity(s, resolution.EmptyResolution()))

	s.ScaleSensitivity = false
	assert.Equal(t, 700, EffectiveSensitivity(s, resolution.Resolution480p()))
}

func TestSettings_Validate(t *testing.T) {
	assert.NoError(t, DefaultMotionDetectionSettings.Validate())

	for _, bad := range []MotionDetectionSettings{
		{Sensitivity: -1},
		{Sensitivity: 10, MedianBlurSize: 4},
		{Sensitivity: 10, MedianBlurSize: 1},
		{Sensitivity: 10, OpenKernelSize: 1},
		{Sensitivity: 10, Mode: "optical"},
	} {
		assert.Error(t, bad.Validate(), "%+v", bad)
	}
}
