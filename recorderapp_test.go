package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeti47/cryospy/client/motion-recorder/catalog"
	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
	filemanagement "github.com/yeti47/cryospy/client/motion-recorder/file-management"
	postprocessing "github.com/yeti47/cryospy/client/motion-recorder/post-processing"
)

func newProcessedTestApp(t *testing.T, deleteOriginal bool) (*RecorderApp, string) {
	t.Helper()

	dir := t.TempDir()
	db, err := catalog.NewInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := catalog.NewSQLiteSessionRepository(db, nil)
	require.NoError(t, err)

	original := filepath.Join(dir, "clip.avi")
	require.NoError(t, os.WriteFile(original, []byte("frames"), 0644))
	require.NoError(t, repo.Add(context.Background(), &catalog.SessionRecord{
		ID:        "s-1",
		Number:    1,
		Path:      original,
		Container: "avi",
		Codec:     "MJPG",
		Extension: ".avi",
		StartedAt: time.Now().UTC(),
		EndedAt:   time.Now().UTC(),
	}))

	return &RecorderApp{
		sessions:       repo,
		files:          filemanagement.NewLocalFileTracker(dir, nil),
		deleteOriginal: deleteOriginal,
		logger:         logging.OrNop(nil),
	}, original
}

func TestOnProcessed_UpdatesCatalogueAndRemovesOriginal(t *testing.T) {
	app, original := newProcessedTestApp(t, true)

	processed := filepath.Join(filepath.Dir(original), "clip.mp4")
	app.onProcessed(postprocessing.Result{
		Job:  &postprocessing.Job{SessionID: "s-1", Number: 1, Path: original},
		Clip: &postprocessing.ProcessedClip{Path: processed, Codec: "libx264", Format: "mp4"},
	})

	_, err := os.Stat(original)
	assert.True(t, os.IsNotExist(err))

	got, err := app.sessions.GetByID(context.Background(), "s-1")
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Equal(t, processed, got.Path)
	assert.Equal(t, original, got.OriginalPath)
	assert.Equal(t, ".mp4", got.Extension)
}

func TestOnProcessed_FailureKeepsOriginal(t *testing.T) {
	app, original := newProcessedTestApp(t, true)

	app.onProcessed(postprocessing.Result{
		Job: &postprocessing.Job{SessionID: "s-1", Number: 1, Path: original},
		Err: errors.New("ffmpeg exited with status 1"),
	})

	_, err := os.Stat(original)
	assert.NoError(t, err)

	got, err := app.sessions.GetByID(context.Background(), "s-1")
	require.NoError(t, err)
	assert.False(t, got.Processed)
}
