package detector

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/ESJavadex/security-ha-addon/internal/logger"
	"github.com/ESJavadex/security-ha-addon/internal/models"
)

// EventKind classifies detector events.
type EventKind int

const (
	MotionStart EventKind = iota // motion confirmed after min_duration
	MotionFrame                  // motion still present while active
	MotionEnd                    // cooldown expired, excursion over
)

// Event is one motion notification. For MotionStart, Timestamp is the original
// detection time rather than the confirmation time, so the recorder can
// backdate the clip's start for pre-roll.
type Event struct {
	Kind       EventKind
	Timestamp  time.Time
	MotionArea int
}

// FrameSource acquires a single frame from the camera stream. Calls are
// bounded in time; failures are tolerated by the sampling loop.
type FrameSource interface {
	AcquireFrame(ctx context.Context) (image.Image, error)
}

// Scorer turns a frame into a non-negative motion-area score for the given
// region of interest.
type Scorer interface {
	Score(frame image.Image, roi models.ROI) int
}

type Option func(*Detector)

// WithSettingsFile enables live reload of ROI and threshold from a JSON file,
// polled by modification time once per sample cycle.
func WithSettingsFile(path string) Option {
	return func(d *Detector) {
		d.settingsFile = path
	}
}

// Detector runs the three-state motion machine: idle -> detecting -> active.
// Motion must persist for minDuration before it is confirmed, and must be
// absent for cooldown before the excursion ends.
type Detector struct {
	frames FrameSource
	scorer Scorer

	checkInterval time.Duration
	minDuration   time.Duration
	cooldown      time.Duration

	settingsFile  string
	settingsMtime time.Time

	mu              sync.Mutex
	state           models.MotionState
	threshold       int
	roi             models.ROI
	motionStartTime time.Time
	lastMotionTime  time.Time
	framesProcessed int
	motionEvents    int

	events chan Event
	now    func() time.Time
}

func NewDetector(cfg models.MotionConfig, frames FrameSource, scorer Scorer, opts ...Option) *Detector {
	d := &Detector{
		frames:        frames,
		scorer:        scorer,
		checkInterval: secondsToDuration(cfg.CheckInterval),
		minDuration:   secondsToDuration(cfg.MinDuration),
		cooldown:      secondsToDuration(cfg.Cooldown),
		state:         models.StateIdle,
		threshold:     cfg.Threshold,
		roi:           cfg.ROI.Clamp(),
		events:        make(chan Event, 64),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Events returns the channel carrying motion notifications. It is closed when
// Run returns.
func (d *Detector) Events() <-chan Event {
	return d.events
}

// Run drives the sampling loop until the context is cancelled. No failure
// inside the loop terminates it.
func (d *Detector) Run(ctx context.Context) {
	logger.Infof("starting motion detection (threshold=%d, min_duration=%s, cooldown=%s)",
		d.threshold, d.minDuration, d.cooldown)
	if d.settingsFile != "" {
		logger.Infof("live settings reload enabled: %s", d.settingsFile)
	}

	ticker := time.NewTicker(d.checkInterval)
	defer ticker.Stop()
	defer close(d.events)

	for {
		select {
		case <-ctx.Done():
			logger.Infof("motion detection stopped")
			return
		case <-ticker.C:
			d.reloadSettings()
			d.sample(ctx)
		}
	}
}

func (d *Detector) sample(ctx context.Context) {
	frame, err := d.frames.AcquireFrame(ctx)
	if err != nil {
		logger.Debugf("no frame available: %v", err)
		return
	}

	d.mu.Lock()
	roi := d.roi
	d.mu.Unlock()

	area := d.scorer.Score(frame, roi)
	d.processSample(area, d.now())
}

// processSample applies one motion score to the state machine. All state and
// timestamp access happens inside a single critical section so concurrent
// status queries never observe a half-applied transition.
func (d *Detector) processSample(area int, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.framesProcessed++
	hasMotion := area > d.threshold

	if hasMotion {
		d.lastMotionTime = now

		switch d.state {
		case models.StateIdle:
			d.state = models.StateDetecting
			d.motionStartTime = now
			logger.Infof("motion detected, waiting %s for confirmation", d.minDuration)

		case models.StateDetecting:
			if now.Sub(d.motionStartTime) >= d.minDuration {
				d.state = models.StateActive
				d.motionEvents++
				logger.Infof("motion confirmed, event #%d", d.motionEvents)
				d.emit(Event{Kind: MotionStart, Timestamp: d.motionStartTime, MotionArea: area})
			}

		case models.StateActive:
			d.emit(Event{Kind: MotionFrame, Timestamp: now, MotionArea: area})
		}
		return
	}

	switch d.state {
	case models.StateDetecting:
		// Transient motion that never reached min_duration. No event.
		logger.Debugf("motion stopped before confirmation, resetting")
		d.state = models.StateIdle
		d.motionStartTime = time.Time{}

	case models.StateActive:
		if !d.lastMotionTime.IsZero() && now.Sub(d.lastMotionTime) >= d.cooldown {
			logger.Infof("motion ended after %s cooldown", d.cooldown)
			d.state = models.StateIdle
			d.emit(Event{Kind: MotionEnd, Timestamp: now})
			d.motionStartTime = time.Time{}
			d.lastMotionTime = time.Time{}
		}
	}
}

func (d *Detector) emit(ev Event) {
	select {
	case d.events <- ev:
	default:
		logger.Warnf("event channel full, dropping event kind=%d", ev.Kind)
	}
}

// SetROI updates the detection zone, clamped to percentage bounds.
func (d *Detector) SetROI(roi models.ROI) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roi = roi.Clamp()
	logger.Infof("roi updated: x=%d%%-%d%%, y=%d%%-%d%%", d.roi.XStart, d.roi.XEnd, d.roi.YStart, d.roi.YEnd)
}

// SetThreshold updates the motion threshold. Negative values are treated as 0.
func (d *Detector) SetThreshold(threshold int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if threshold < 0 {
		threshold = 0
	}
	d.threshold = threshold
	logger.Infof("motion threshold updated: %d", d.threshold)
}

// SetCooldown updates how long motion must be absent before an excursion
// ends. Negative values are treated as 0.
func (d *Detector) SetCooldown(seconds float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cd := secondsToDuration(seconds)
	if cd < 0 {
		cd = 0
	}
	d.cooldown = cd
	logger.Infof("cooldown updated: %s", d.cooldown)
}

// IsMotionActive reports whether motion is currently confirmed.
func (d *Detector) IsMotionActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == models.StateActive
}

// Stats returns a snapshot for the reporting sink and the HTTP API.
func (d *Detector) Stats() models.MotionStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return models.MotionStats{
		State:           d.state,
		MotionDetected:  d.state == models.StateActive,
		LastMotionTime:  models.UnixSeconds(d.lastMotionTime),
		FramesProcessed: d.framesProcessed,
		MotionEvents:    d.motionEvents,
		ROI:             d.roi,
		MotionThreshold: d.threshold,
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
