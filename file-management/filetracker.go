package filemanagement

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
)

// FileTracker manages the directory recordings are written to.
type FileTracker interface {
	// EnsureDirectory creates the output directory if it doesn't exist.
	EnsureDirectory() error

	// CheckWritable verifies that files can be created in the output directory.
	CheckWritable() error

	// NextFreePath returns {dir}/{stem}{ext}, or {dir}/{stem}-N{ext} with the smallest
	// N >= 1 when that file already exists.
	NextFreePath(stem, ext string) (string, error)

	// DeleteFile removes a file from disk. Missing files are ignored.
	DeleteFile(filePath string)

	// CleanupEmptyFiles removes zero length files with one of the given extensions,
	// which are left behind when the process dies before a clip was finalized.
	CleanupEmptyFiles(extensions []string) int
}

// LocalFileTracker implements FileTracker for local filesystem
type LocalFileTracker struct {
	dir    string
	logger logging.Logger
	mu     sync.Mutex
}

// NewLocalFileTracker creates a new local file tracker
func NewLocalFileTracker(dir string, logger logging.Logger) *LocalFileTracker {
	return &LocalFileTracker{
		dir:    dir,
		logger: logging.OrNop(logger),
	}
}

// Dir returns the managed directory.
func (t *LocalFileTracker) Dir() string {
	return t.dir
}

func (t *LocalFileTracker) EnsureDirectory() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", t.dir, err)
	}
	t.logger.Debug("Output directory ready", "dir", t.dir)
	return nil
}

func (t *LocalFileTracker) CheckWritable() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, err := os.Stat(t.dir)
	if err != nil {
		return fmt.Errorf("output directory %s is not accessible: %w", t.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path %s is not a directory", t.dir)
	}

	probe, err := os.CreateTemp(t.dir, ".write-probe-*")
	if err != nil {
		return fmt.Errorf("output directory %s is not writable: %w", t.dir, err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

func (t *LocalFileTracker) NextFreePath(stem, ext string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	candidate := filepath.Join(t.dir, stem+ext)
	for n := 1; ; n++ {
		_, err := os.Stat(candidate)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", candidate, err)
		}
		candidate = filepath.Join(t.dir, fmt.Sprintf("%s-%d%s", stem, n, ext))
	}
}

func (t *LocalFileTracker) DeleteFile(filePath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("Failed to remove file", "path", filePath, "error", err)
	} else if err == nil {
		t.logger.Debug("Deleted file", "path", filePath)
	}
}

func (t *LocalFileTracker) CleanupEmptyFiles(extensions []string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := os.ReadDir(t.dir)
	if err != nil {
		t.logger.Warn("Failed to read output directory", "dir", t.dir, "error", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !hasExtension(entry.Name(), extensions) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() > 0 {
			continue
		}
		filePath := filepath.Join(t.dir, entry.Name())
		if err := os.Remove(filePath); err != nil {
			t.logger.Warn("Failed to remove empty clip", "path", filePath, "error", err)
			continue
		}
		t.logger.Info("Removed empty clip left by an earlier run", "path", filePath)
		removed++
	}
	return removed
}

func hasExtension(name string, extensions []string) bool {
	ext := filepath.Ext(name)
	for _, e := range extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}
