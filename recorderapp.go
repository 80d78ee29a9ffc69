package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/yeti47/cryospy/client/motion-recorder/background"
	"github.com/yeti47/cryospy/client/motion-recorder/catalog"
	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
	clipwriter "github.com/yeti47/cryospy/client/motion-recorder/clip-writer"
	"github.com/yeti47/cryospy/client/motion-recorder/config"
	filemanagement "github.com/yeti47/cryospy/client/motion-recorder/file-management"
	framesource "github.com/yeti47/cryospy/client/motion-recorder/frame-source"
	motiondetection "github.com/yeti47/cryospy/client/motion-recorder/motion-detection"
	"github.com/yeti47/cryospy/client/motion-recorder/orchestrator"
	postprocessing "github.com/yeti47/cryospy/client/motion-recorder/post-processing"
	"github.com/yeti47/cryospy/client/motion-recorder/recording"
	"github.com/yeti47/cryospy/client/motion-recorder/status"
)

const postProcessingDrainTimeout = 2 * time.Minute

// RecorderApp wires the frame source, detection pipeline, recorder and the optional
// catalogue and status server together.
type RecorderApp struct {
	// Core components
	source   framesource.Source
	model    *background.AdaptiveModel
	scorer   *motiondetection.GoCVMotionDetector
	recorder *recording.MotionRecorder
	loop     *orchestrator.Loop

	// Optional components
	db           *sql.DB
	sessions     catalog.SessionRepository
	statusServer *status.Server
	postQueue    *postprocessing.Queue

	files          *filemanagement.LocalFileTracker
	deleteOriginal bool
	logger         logging.Logger
}

// NewRecorderApp builds every component from cfg. Components opened before a
// failure are closed again.
func NewRecorderApp(cfg *config.Config, logger logging.Logger) (_ *RecorderApp, err error) {
	logger = logging.OrNop(logger)
	a := &RecorderApp{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	fallback := cfg.FallbackList()

	// Output directory and leftovers of a previous run
	files := filemanagement.NewLocalFileTracker(cfg.OutputDir, logger)
	a.files = files
	if err := files.EnsureDirectory(); err != nil {
		return nil, err
	}
	if err := files.CheckWritable(); err != nil {
		return nil, fmt.Errorf("output directory %s is not writable: %w", cfg.OutputDir, err)
	}
	if removed := files.CleanupEmptyFiles(fallback.Extensions()); removed > 0 {
		logger.Info("Removed empty clips from a previous run", "count", removed)
	}

	clipwriter.ReportFallback(clipwriter.NewFFmpegCodecProvider(logger), fallback, logger)

	// Frame source
	res, err := cfg.ResolutionSetting()
	if err != nil {
		return nil, err
	}
	source, err := framesource.Open(framesource.Options{
		Device:     cfg.CameraDevice,
		File:       cfg.VideoFile,
		Resolution: res,
		FrameRate:  cfg.FrameRate,
		Clock:      framesource.RealClock{},
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	a.source = source

	dims := source.Dimensions()
	if fps := source.FrameRate(); math.Abs(fps-cfg.FrameRate) > 1 {
		logger.Warn("Source frame rate differs from the clip frame rate, clips will play at the wrong speed",
			"source_fps", fps, "clip_fps", cfg.FrameRate)
	}

	// Detection pipeline
	bgSettings, err := cfg.BackgroundSettings()
	if err != nil {
		return nil, err
	}
	if a.model, err = background.New(bgSettings, logger); err != nil {
		return nil, fmt.Errorf("failed to create background model: %w", err)
	}

	scorerSettings, err := cfg.ScorerSettings()
	if err != nil {
		return nil, err
	}
	if a.scorer, err = motiondetection.NewGoCVMotionDetector(scorerSettings, dims, logger); err != nil {
		return nil, fmt.Errorf("failed to create motion detector: %w", err)
	}
	logger.Info("Motion detection configured",
		"strategy", string(bgSettings.Strategy),
		"history", bgSettings.HistoryLength,
		"variance_threshold", bgSettings.VarianceThreshold,
		"threshold", a.scorer.Threshold(),
		"mode", string(scorerSettings.Mode),
	)

	// Clip writer
	writer, err := clipwriter.NewWriter(clipwriter.Options{
		Files:          files,
		FilenameLayout: cfg.FilenameLayout,
		Fallback:       fallback,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create clip writer: %w", err)
	}

	// Session catalogue
	recSettings := cfg.RecordingSettings()
	if cfg.CatalogPath != "" {
		if a.db, err = catalog.OpenDB(cfg.CatalogPath); err != nil {
			return nil, fmt.Errorf("failed to open session catalogue: %w", err)
		}
		repo, err := catalog.NewSQLiteSessionRepository(a.db, logger)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		next, err := repo.NextNumber(ctx)
		cancel()
		if err != nil {
			return nil, err
		}
		a.sessions = repo
		recSettings.FirstSessionNumber = next
	}

	// Recorder and its listeners. The verifier runs first so later listeners see its result.
	if a.recorder, err = recording.NewMotionRecorder(recSettings, writer, logger); err != nil {
		return nil, err
	}
	if cfg.VerifyClips {
		a.recorder.AddListener(recording.NewClipVerifier(clipwriter.NewFFmpegValidator(logger), logger))
	}
	if a.sessions != nil {
		a.recorder.AddListener(catalog.NewSessionCatalogue(a.sessions, logger))
	}

	snapshot := status.NewSnapshot(time.Now())
	a.recorder.AddListener(snapshot)

	// Post-processing runs last so the catalogue already holds the session
	if cfg.PostProcessing.Enabled {
		ppSettings, err := cfg.PostProcessingSettings()
		if err != nil {
			return nil, err
		}
		processor := postprocessing.NewFfmpegPostProcessor(ppSettings, logger)
		a.postQueue = postprocessing.NewQueue(processor, cfg.PostProcessing.QueueSize, postProcessingDrainTimeout, logger)
		a.deleteOriginal = ppSettings.DeleteOriginal
		a.recorder.AddListener(postprocessing.NewSessionScheduler(a.postQueue))
		logger.Info("Post-processing enabled", "format", ppSettings.OutputFormat, "codec", ppSettings.OutputCodec)
	}
	if cfg.StatusAddr != "" {
		a.statusServer = status.NewServer(status.Options{
			Addr:     cfg.StatusAddr,
			Snapshot: snapshot,
			Sessions: a.sessions,
			Logger:   logger,
			Debug:    cfg.LogLevel == string(logging.LogLevelDebug),
		})
	}

	a.loop, err = orchestrator.New(orchestrator.Options{
		Source:   a.source,
		Model:    a.model,
		Scorer:   a.scorer,
		Recorder: a.recorder,
		Observer: snapshot,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Run serves the status API, if enabled, and runs the loop until ctx is cancelled,
// the source ends or fails. Clips still queued for post-processing are drained
// before it returns.
func (a *RecorderApp) Run(ctx context.Context) error {
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	// Detached from ctx: the final session is queued after ctx is cancelled.
	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()

	var wg sync.WaitGroup
	if a.postQueue != nil {
		wg.Add(1)
		go a.postQueue.Start(queueCtx, &wg, a.onProcessed)
	}
	if a.statusServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.statusServer.Run(serverCtx); err != nil {
				a.logger.Error("Status server failed", "error", err)
			}
		}()
	}

	err := a.loop.Run(ctx)

	stopQueue()
	stopServer()
	wg.Wait()
	return err
}

// onProcessed runs on the post-processing worker.
func (a *RecorderApp) onProcessed(result postprocessing.Result) {
	if result.Err != nil {
		return
	}

	if a.deleteOriginal && result.Clip.Path != result.Job.Path {
		a.files.DeleteFile(result.Job.Path)
	}

	if a.sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.sessions.MarkProcessed(ctx, result.Job.SessionID, catalog.ProcessedClip{
		Path:      result.Clip.Path,
		Container: result.Clip.Format,
		Codec:     result.Clip.Codec,
		Extension: "." + result.Clip.Format,
	})
	if err != nil {
		a.logger.Error("Failed to record processed clip", "session", result.Job.Number, "error", err)
	}
}

// Close releases the source, the detection buffers and the catalogue.
func (a *RecorderApp) Close() error {
	var errs []error
	if a.source != nil {
		errs = append(errs, a.source.Close())
	}
	if a.scorer != nil {
		errs = append(errs, a.scorer.Close())
	}
	if a.model != nil {
		errs = append(errs, a.model.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
