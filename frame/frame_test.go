package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestNew_RejectsEmptyMat(t *testing.T) {
	_, err := New(0, time.Now(), gocv.NewMat())
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestFrame_Gray(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), 6, 8, gocv.MatTypeCV8UC3)

	f, err := New(7, ts, mat)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, 8, f.Width())
	assert.Equal(t, 6, f.Height())

	gray, err := f.Gray()
	require.NoError(t, err)
	defer gray.Close()

	gm := gray.Mat()
	assert.Equal(t, 1, gm.Channels())
	assert.Equal(t, f.Dimensions(), gray.Dimensions())
	assert.Equal(t, int64(7), gray.Index())
	assert.Equal(t, ts, gray.Timestamp())
}
