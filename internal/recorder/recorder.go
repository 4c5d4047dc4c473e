package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ESJavadex/security-ha-addon/internal/logger"
	"github.com/ESJavadex/security-ha-addon/internal/models"

	"github.com/google/uuid"
)

// Analyzer classifies finished recordings asynchronously. TryStart reserves
// the filename (false when an analysis is already in flight for it); Finish
// releases it.
type Analyzer interface {
	TryStart(filename string) bool
	Finish(filename string)
	Analyze(filename string, screenshots []string) models.AnalysisResult
}

// stopGrace bounds the wait for ffmpeg to exit cleanly.
const stopGrace = 10 * time.Second

type ControllerOption func(*Controller)

// WithAnalyzer attaches the classification coordinator. When autoAnalyze is
// set, every saved recording with screenshots is dispatched automatically.
func WithAnalyzer(a Analyzer, autoAnalyze bool) ControllerOption {
	return func(c *Controller) {
		c.analyzer = a
		c.autoAnalyze = autoAnalyze
	}
}

// WithCaptureFactory overrides how capture processes are built.
func WithCaptureFactory(f CaptureFactory) ControllerOption {
	return func(c *Controller) {
		c.newCapture = f
	}
}

// WithScreenshotter overrides screenshot generation.
func WithScreenshotter(s Screenshotter) ControllerOption {
	return func(c *Controller) {
		c.screens = s
	}
}

// Controller owns the lifecycle of at most one active capture process. Starts
// come from motion confirmation, stops from a debounced post-roll timer or an
// explicit request; all of them serialize on one mutex so a capture handle is
// never used after it has been cleared.
type Controller struct {
	streamURL   string
	dir         string
	postRoll    time.Duration
	maxDuration time.Duration

	store     *Store
	retention *RetentionPolicy

	newCapture CaptureFactory
	screens    Screenshotter

	analyzer    Analyzer
	autoAnalyze bool

	mu        sync.Mutex
	recording bool
	current   *models.Recording
	capture   Capture
	stopTimer *time.Timer

	now func() time.Time
}

func NewController(cfg models.RecordingConfig, streamURL string, store *Store, dir string, opts ...ControllerOption) *Controller {
	c := &Controller{
		streamURL:   streamURL,
		dir:         dir,
		postRoll:    time.Duration(cfg.PostRoll) * time.Second,
		maxDuration: time.Duration(cfg.MaxDuration) * time.Second,
		store:       store,
		retention:   NewRetentionPolicy(store, cfg.MaxRecordings),
		newCapture:  NewFFmpegCapture,
		screens:     &FFmpegScreenshotter{},
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// StartRecording begins capturing, backdating the clip's start to confirmedAt
// (the original detection time) for pre-roll. If a recording is already
// active, any pending stop is cancelled and no second process is started.
func (c *Controller) StartRecording(confirmedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recording {
		logger.Warnf("recording already in progress")
		if c.stopTimer != nil {
			c.stopTimer.Stop()
			c.stopTimer = nil
		}
		return
	}

	c.recording = true

	filename := c.generateFilename()
	path := filepath.Join(c.dir, filename)

	c.current = &models.Recording{
		Filename:  filename,
		Filepath:  path,
		StartTime: models.UnixSeconds(confirmedAt),
	}

	logger.Infof("starting recording: %s", filename)

	capture := c.newCapture(c.streamURL, path, c.maxDuration)
	if err := capture.Start(); err != nil {
		// Reset the flag so a spawn failure never wedges the controller in a
		// phantom-recording state.
		logger.Errorf("error starting capture: %v", err)
		c.recording = false
		c.current = nil
		return
	}
	c.capture = capture
}

// ScheduleStop arms (or re-arms) the post-roll debounce timer. Rapid
// end/start flapping keeps resetting the countdown.
func (c *Controller) ScheduleStop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recording {
		return
	}

	if c.stopTimer != nil {
		c.stopTimer.Stop()
	}

	logger.Infof("motion ended, stopping recording in %s", c.postRoll)
	c.stopTimer = time.AfterFunc(c.postRoll, c.stopRecording)
}

// ExtendRecording cancels any pending stop without touching the capture
// process, so fresh motion extends the clip seamlessly.
func (c *Controller) ExtendRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopTimer != nil {
		c.stopTimer.Stop()
		c.stopTimer = nil
		logger.Debugf("recording extended, stop timer canceled")
	}
}

// StopNow stops the current recording immediately, skipping the post-roll.
func (c *Controller) StopNow() {
	c.mu.Lock()
	if c.stopTimer != nil {
		c.stopTimer.Stop()
		c.stopTimer = nil
	}
	c.mu.Unlock()

	c.stopRecording()
}

// stopRecording is the single stop path, reached from the debounce timer or
// StopNow. The lock is held across process termination and artifact
// generation; a concurrent start blocks until the slot is fully cleared.
func (c *Controller) stopRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recording {
		return
	}
	c.recording = false
	c.stopTimer = nil

	if c.capture != nil {
		c.capture.Stop(stopGrace)
		c.capture = nil
	}

	if rec := c.current; rec != nil {
		c.current = nil

		rec.EndTime = models.UnixSeconds(c.now())
		rec.Duration = rec.EndTime - rec.StartTime

		fi, err := os.Stat(rec.Filepath)
		if err != nil {
			logger.Errorf("recording file not found: %s", rec.Filepath)
		} else {
			rec.Filesize = fi.Size()

			shots := c.screens.Generate(rec.Filepath)
			rec.Screenshots = shots
			if len(shots) > 0 {
				// First screenshot doubles as the thumbnail for older
				// consumers.
				rec.Thumbnail = filepath.Join(filepath.Dir(rec.Filepath), shots[0])
			}

			c.store.Append(*rec)
			logger.Infof("recording saved: %s (%.1fs, %.1fMB)",
				rec.Filename, rec.Duration, float64(rec.Filesize)/1024/1024)

			if c.autoAnalyze && len(shots) > 0 {
				c.dispatchAnalysis(rec.Filename, shots)
			}
		}
	}

	c.retention.Apply()
}

// IsRecording reports whether a capture is active.
func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Recordings returns all completed recordings.
func (c *Controller) Recordings() []models.Recording {
	return c.store.List()
}

// Latest returns the most recent recording by start time.
func (c *Controller) Latest() (models.Recording, bool) {
	var latest models.Recording
	found := false
	for _, r := range c.store.List() {
		if !found || r.StartTime > latest.StartTime {
			latest = r
			found = true
		}
	}
	return latest, found
}

// Stats returns a snapshot for the reporting sink and the HTTP API.
func (c *Controller) Stats() models.RecordingStats {
	recs := c.store.List()

	var totalSize int64
	for _, r := range recs {
		totalSize += r.Filesize
	}

	stats := models.RecordingStats{
		IsRecording:     c.IsRecording(),
		TotalRecordings: len(recs),
		TotalSizeMB:     float64(totalSize) / 1024 / 1024,
	}
	if latest, ok := c.Latest(); ok {
		stats.LatestRecording = latest.Filename
		stats.LatestRecordingTime = latest.StartTime
		stats.LatestThumbnail = latest.Thumbnail
	}
	return stats
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (c *Controller) ToggleFavorite(filename string) (bool, error) {
	var favorite bool
	found := c.store.Update(filename, func(rec *models.Recording) {
		rec.Favorite = !rec.Favorite
		favorite = rec.Favorite
	})
	if !found {
		return false, fmt.Errorf("recording not found: %s", filename)
	}
	logger.Infof("favorite set for %s: %t", filename, favorite)
	return favorite, nil
}

// SetFalsePositive manually overrides the classification with
// confidence "manual". A later automatic analysis may overwrite it;
// last-write-wins, but every write is serialized through the store.
func (c *Controller) SetFalsePositive(filename string, isFalsePositive bool) error {
	found := c.store.Update(filename, func(rec *models.Recording) {
		if rec.LLMAnalysis == nil {
			rec.LLMAnalysis = &models.AnalysisResult{}
		}
		rec.LLMAnalysis.IsFalsePositive = isFalsePositive
		rec.LLMAnalysis.Confidence = "manual"
		rec.LLMAnalysis.Description = "Manually set by user"
	})
	if !found {
		return fmt.Errorf("recording not found: %s", filename)
	}
	logger.Infof("manual false positive set for %s: %t", filename, isFalsePositive)
	return nil
}

// DeleteRecording removes one recording and its files.
func (c *Controller) DeleteRecording(filename string) error {
	removed := c.store.RemoveBatch(func(recs []models.Recording) []models.Recording {
		for _, r := range recs {
			if r.Filename == filename {
				return []models.Recording{r}
			}
		}
		return nil
	}, deleteRecordingFiles)

	if removed == 0 {
		return fmt.Errorf("recording not found: %s", filename)
	}
	logger.Infof("deleted recording: %s", filename)
	return nil
}

// AnalyzeOnDemand triggers classification for one recording.
func (c *Controller) AnalyzeOnDemand(filename string) error {
	if c.analyzer == nil {
		return fmt.Errorf("llm analyzer not configured")
	}

	rec, ok := c.store.Find(filename)
	if !ok {
		return fmt.Errorf("recording not found: %s", filename)
	}
	if len(rec.Screenshots) == 0 {
		return fmt.Errorf("no screenshots available for %s", filename)
	}
	if !c.analyzer.TryStart(filename) {
		return fmt.Errorf("analysis already in progress for %s", filename)
	}

	c.runAnalysis(filename, rec.Screenshots)
	return nil
}

// dispatchAnalysis is the auto-analyze path; it silently skips filenames with
// an analysis already in flight.
func (c *Controller) dispatchAnalysis(filename string, screenshots []string) {
	if c.analyzer == nil {
		return
	}
	if !c.analyzer.TryStart(filename) {
		logger.Warnf("analysis already in progress for %s", filename)
		return
	}
	c.runAnalysis(filename, screenshots)
}

// runAnalysis fires the classification task. The caller must already hold the
// filename reservation via TryStart.
func (c *Controller) runAnalysis(filename string, screenshots []string) {
	go func() {
		defer c.analyzer.Finish(filename)
		result := c.analyzer.Analyze(filename, screenshots)
		c.applyAnalysis(filename, result)
	}()
	logger.Infof("llm analysis started for %s", filename)
}

func (c *Controller) applyAnalysis(filename string, result models.AnalysisResult) {
	found := c.store.Update(filename, func(rec *models.Recording) {
		r := result
		rec.LLMAnalysis = &r
	})
	if found {
		logger.Infof("llm analysis saved for %s: false_positive=%t, confidence=%s",
			filename, result.IsFalsePositive, result.Confidence)
	}
}

// generateFilename builds a timestamp-derived, collision-resistant name.
func (c *Controller) generateFilename() string {
	return fmt.Sprintf("motion_%s_%s.mp4",
		c.now().Format("20060102_150405"), uuid.NewString()[:8])
}
