package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ESJavadex/security-ha-addon/internal/logger"
	"github.com/ESJavadex/security-ha-addon/internal/models"
)

const updateInterval = 1 * time.Second

// MotionSource exposes the detector snapshot the reporter polls.
type MotionSource interface {
	Stats() models.MotionStats
}

// RecordingSource exposes the recorder snapshot the reporter polls.
type RecordingSource interface {
	Stats() models.RecordingStats
}

// Publisher pushes a state payload to an external sink such as MQTT.
type Publisher interface {
	Publish(payload interface{}) error
}

// Reporter periodically snapshots the pipeline and writes the sensor state
// file Home Assistant template sensors read. It also tracks a per-day motion
// event counter that resets at midnight.
type Reporter struct {
	statePath  string
	motion     MotionSource
	recordings RecordingSource
	publisher  Publisher

	startTime      time.Time
	eventsToday    int
	lastEventCount int
	countDate      string

	lastPublished []byte

	now func() time.Time
}

// ReporterOption configures optional reporter behavior.
type ReporterOption func(*Reporter)

// WithPublisher mirrors every state change to an external publisher.
func WithPublisher(p Publisher) ReporterOption {
	return func(r *Reporter) {
		r.publisher = p
	}
}

func NewReporter(statePath string, motion MotionSource, recordings RecordingSource, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		statePath:  statePath,
		motion:     motion,
		recordings: recordings,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.startTime = r.now()
	r.countDate = r.startTime.Format("2006-01-02")
	return r
}

// Run writes the state file every second until the context is cancelled,
// then writes one final snapshot so the sensors see the shutdown state.
func (r *Reporter) Run(ctx context.Context) {
	logger.Infof("state reporter started, writing to %s", r.statePath)

	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.report()
			logger.Infof("state reporter stopped")
			return
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *Reporter) report() {
	state := r.buildState()

	if err := r.writeStateFile(state); err != nil {
		logger.Errorf("failed to write state file: %v", err)
	}

	if r.publisher != nil {
		r.publishIfChanged(state)
	}
}

func (r *Reporter) buildState() models.SensorState {
	motion := r.motion.Stats()
	rec := r.recordings.Stats()
	now := r.now()

	r.rollEventCounter(motion.MotionEvents, now)

	state := models.SensorState{
		MotionDetected:    motion.MotionDetected,
		MotionState:       string(motion.State),
		IsRecording:       rec.IsRecording,
		TotalRecordings:   rec.TotalRecordings,
		LatestRecording:   rec.LatestRecording,
		LatestThumbnail:   rec.LatestThumbnail,
		UptimeSeconds:     int(now.Sub(r.startTime).Seconds()),
		FramesProcessed:   motion.FramesProcessed,
		MotionEventsToday: r.eventsToday,
	}
	if motion.LastMotionTime > 0 {
		state.LastMotionTime = isoTime(motion.LastMotionTime)
	}
	if rec.LatestRecordingTime > 0 {
		state.LatestRecordingTime = isoTime(rec.LatestRecordingTime)
	}
	return state
}

// rollEventCounter accumulates new confirmed events into the daily counter
// and resets it when the calendar date changes.
func (r *Reporter) rollEventCounter(totalEvents int, now time.Time) {
	today := now.Format("2006-01-02")
	if today != r.countDate {
		r.countDate = today
		r.eventsToday = 0
	}

	if delta := totalEvents - r.lastEventCount; delta > 0 {
		r.eventsToday += delta
	}
	r.lastEventCount = totalEvents
}

func (r *Reporter) writeStateFile(state models.SensorState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := r.statePath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(r.statePath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.statePath)
}

// publishIfChanged compares against the last published payload, ignoring the
// uptime counter so a quiet system does not publish every second.
func (r *Reporter) publishIfChanged(state models.SensorState) {
	compare := state
	compare.UptimeSeconds = 0

	data, err := json.Marshal(compare)
	if err != nil {
		return
	}
	if string(data) == string(r.lastPublished) {
		return
	}

	if err := r.publisher.Publish(state); err != nil {
		logger.Warnf("failed to publish state: %v", err)
		return
	}
	r.lastPublished = data
}

func isoTime(unixSeconds float64) string {
	sec := int64(unixSeconds)
	nsec := int64((unixSeconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).Format(time.RFC3339)
}
