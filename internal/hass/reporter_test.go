package hass

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ESJavadex/security-ha-addon/internal/models"
)

type fakeMotion struct {
	stats models.MotionStats
}

func (f *fakeMotion) Stats() models.MotionStats { return f.stats }

type fakeRecordings struct {
	stats models.RecordingStats
}

func (f *fakeRecordings) Stats() models.RecordingStats { return f.stats }

type fakePublisher struct {
	published []models.SensorState
	err       error
}

func (f *fakePublisher) Publish(payload interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, payload.(models.SensorState))
	return nil
}

func TestReporterWritesStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	motion := &fakeMotion{stats: models.MotionStats{
		State:           models.StateActive,
		MotionDetected:  true,
		LastMotionTime:  models.UnixSeconds(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)),
		FramesProcessed: 42,
		MotionEvents:    3,
	}}
	recs := &fakeRecordings{stats: models.RecordingStats{
		IsRecording:     true,
		TotalRecordings: 5,
		LatestRecording: "motion_x.mp4",
	}}

	r := NewReporter(path, motion, recs)
	r.report()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var state models.SensorState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatal(err)
	}

	if !state.MotionDetected || state.MotionState != "active" {
		t.Errorf("motion state not reflected: %+v", state)
	}
	if !state.IsRecording || state.TotalRecordings != 5 {
		t.Errorf("recording state not reflected: %+v", state)
	}
	if state.LastMotionTime == "" {
		t.Error("last motion time must be present when motion has occurred")
	}
	if state.MotionEventsToday != 3 {
		t.Errorf("expected 3 events today, got %d", state.MotionEventsToday)
	}
}

func TestReporterDailyCounterAccumulatesDeltas(t *testing.T) {
	motion := &fakeMotion{}
	r := NewReporter(filepath.Join(t.TempDir(), "state.json"), motion, &fakeRecordings{})

	motion.stats.MotionEvents = 2
	r.report()
	motion.stats.MotionEvents = 5
	r.report()

	if r.eventsToday != 5 {
		t.Errorf("expected 5 events today, got %d", r.eventsToday)
	}
}

func TestReporterDailyCounterRollsOverAtMidnight(t *testing.T) {
	motion := &fakeMotion{stats: models.MotionStats{MotionEvents: 4}}
	r := NewReporter(filepath.Join(t.TempDir(), "state.json"), motion, &fakeRecordings{})

	day1 := time.Date(2026, 8, 1, 23, 59, 0, 0, time.UTC)
	r.now = func() time.Time { return day1 }
	r.report()
	if r.eventsToday != 4 {
		t.Fatalf("expected 4 events, got %d", r.eventsToday)
	}

	day2 := time.Date(2026, 8, 2, 0, 1, 0, 0, time.UTC)
	r.now = func() time.Time { return day2 }
	motion.stats.MotionEvents = 5
	r.report()

	if r.eventsToday != 1 {
		t.Errorf("expected counter reset at midnight with 1 new event, got %d", r.eventsToday)
	}
}

func TestReporterPublishesOnlyOnChange(t *testing.T) {
	motion := &fakeMotion{}
	pub := &fakePublisher{}
	r := NewReporter(filepath.Join(t.TempDir(), "state.json"), motion, &fakeRecordings{}, WithPublisher(pub))

	r.report()
	r.report()
	if len(pub.published) != 1 {
		t.Fatalf("identical state must publish once, got %d", len(pub.published))
	}

	motion.stats.MotionDetected = true
	motion.stats.State = models.StateActive
	r.report()
	if len(pub.published) != 2 {
		t.Fatalf("changed state must publish again, got %d", len(pub.published))
	}
}

func TestReporterRetriesFailedPublish(t *testing.T) {
	motion := &fakeMotion{}
	pub := &fakePublisher{err: os.ErrDeadlineExceeded}
	r := NewReporter(filepath.Join(t.TempDir(), "state.json"), motion, &fakeRecordings{}, WithPublisher(pub))

	r.report()
	pub.err = nil
	r.report()

	if len(pub.published) != 1 {
		t.Fatalf("a failed publish must be retried on the next tick, got %d", len(pub.published))
	}
}
