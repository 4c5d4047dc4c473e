package recorder

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ESJavadex/security-ha-addon/internal/models"
)

// fakeCapture writes a placeholder output file on Start so the stop path
// finds something to stat.
type fakeCapture struct {
	mu         sync.Mutex
	outputPath string
	startErr   error
	started    bool
	stopped    bool
}

func (f *fakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return os.WriteFile(f.outputPath, []byte("video"), 0o644)
}

func (f *fakeCapture) Stop(grace time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

// fakeCaptureTracker builds fakeCaptures and remembers every one it made.
type fakeCaptureTracker struct {
	mu       sync.Mutex
	captures []*fakeCapture
	startErr error
}

func (t *fakeCaptureTracker) factory(streamURL, outputPath string, maxDuration time.Duration) Capture {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &fakeCapture{outputPath: outputPath, startErr: t.startErr}
	t.captures = append(t.captures, c)
	return c
}

func (t *fakeCaptureTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.captures)
}

type fakeScreenshotter struct {
	shots []string
}

func (f *fakeScreenshotter) Generate(videoPath string) []string {
	return f.shots
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	pending  map[string]bool
	analyzed []string
	result   models.AnalysisResult
	done     chan struct{}
}

func newFakeAnalyzer(result models.AnalysisResult) *fakeAnalyzer {
	return &fakeAnalyzer{
		pending: make(map[string]bool),
		result:  result,
		done:    make(chan struct{}, 8),
	}
}

func (f *fakeAnalyzer) TryStart(filename string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending[filename] {
		return false
	}
	f.pending[filename] = true
	return true
}

func (f *fakeAnalyzer) Finish(filename string) {
	f.mu.Lock()
	delete(f.pending, filename)
	f.mu.Unlock()
	f.done <- struct{}{}
}

func (f *fakeAnalyzer) Analyze(filename string, screenshots []string) models.AnalysisResult {
	f.mu.Lock()
	f.analyzed = append(f.analyzed, filename)
	f.mu.Unlock()
	return f.result
}

func newTestController(t *testing.T, tracker *fakeCaptureTracker, opts ...ControllerOption) *Controller {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	cfg := models.RecordingConfig{PostRoll: 1, MaxDuration: 300}
	opts = append(opts,
		WithCaptureFactory(tracker.factory),
		WithScreenshotter(&fakeScreenshotter{shots: []string{"shot_000.jpg"}}),
	)
	c := NewController(cfg, "rtsp://test/stream", store, dir, opts...)
	c.postRoll = 30 * time.Millisecond
	return c
}

func TestStartAndStopSavesRecording(t *testing.T) {
	tracker := &fakeCaptureTracker{}
	c := newTestController(t, tracker)

	detected := time.Now().Add(-4 * time.Second)
	c.StartRecording(detected)
	if !c.IsRecording() {
		t.Fatal("expected recording to be active")
	}

	c.StopNow()
	if c.IsRecording() {
		t.Fatal("expected recording to be stopped")
	}

	recs := c.Recordings()
	if len(recs) != 1 {
		t.Fatalf("expected 1 recording, got %d", len(recs))
	}
	rec := recs[0]
	if rec.StartTime != models.UnixSeconds(detected) {
		t.Errorf("start time must be backdated to detection time")
	}
	if rec.Duration <= 0 {
		t.Errorf("expected positive duration, got %f", rec.Duration)
	}
	if len(rec.Screenshots) != 1 {
		t.Errorf("expected screenshots to be attached, got %v", rec.Screenshots)
	}
}

func TestStartWhileRecordingCancelsPendingStop(t *testing.T) {
	tracker := &fakeCaptureTracker{}
	c := newTestController(t, tracker)

	c.StartRecording(time.Now())
	c.ScheduleStop()
	// Fresh motion confirmation before the post-roll expires.
	c.StartRecording(time.Now())

	time.Sleep(100 * time.Millisecond)
	if !c.IsRecording() {
		t.Fatal("pending stop must be cancelled by a new start")
	}
	if tracker.count() != 1 {
		t.Fatalf("expected a single capture process, got %d", tracker.count())
	}
	c.StopNow()
}

func TestExtendCancelsScheduledStop(t *testing.T) {
	tracker := &fakeCaptureTracker{}
	c := newTestController(t, tracker)

	c.StartRecording(time.Now())
	c.ScheduleStop()
	c.ExtendRecording()

	time.Sleep(100 * time.Millisecond)
	if !c.IsRecording() {
		t.Fatal("extend must cancel the scheduled stop")
	}
	c.StopNow()
}

func TestScheduledStopFires(t *testing.T) {
	tracker := &fakeCaptureTracker{}
	c := newTestController(t, tracker)

	c.StartRecording(time.Now())
	c.ScheduleStop()

	time.Sleep(100 * time.Millisecond)
	if c.IsRecording() {
		t.Fatal("scheduled stop should have fired")
	}
	if len(c.Recordings()) != 1 {
		t.Fatalf("expected the recording to be persisted")
	}
}

func TestRescheduleResetsCountdown(t *testing.T) {
	tracker := &fakeCaptureTracker{}
	c := newTestController(t, tracker)
	c.postRoll = 60 * time.Millisecond

	c.StartRecording(time.Now())
	c.ScheduleStop()
	time.Sleep(40 * time.Millisecond)
	c.ScheduleStop()
	time.Sleep(40 * time.Millisecond)

	// 80ms after the first schedule, but only 40ms after the second.
	if !c.IsRecording() {
		t.Fatal("rescheduling must restart the post-roll countdown")
	}
	c.StopNow()
}

func TestSpawnFailureClearsRecordingFlag(t *testing.T) {
	tracker := &fakeCaptureTracker{startErr: os.ErrPermission}
	c := newTestController(t, tracker)

	c.StartRecording(time.Now())
	if c.IsRecording() {
		t.Fatal("spawn failure must not leave the controller recording")
	}

	// The slot is free again for the next excursion.
	tracker.mu.Lock()
	tracker.startErr = nil
	tracker.mu.Unlock()
	c.StartRecording(time.Now())
	if !c.IsRecording() {
		t.Fatal("controller must recover after a spawn failure")
	}
	c.StopNow()
}

func TestMissingOutputFileIsNotPersisted(t *testing.T) {
	tracker := &fakeCaptureTracker{}
	c := newTestController(t, tracker)

	c.StartRecording(time.Now())

	// Simulate the capture process dying without producing output.
	tracker.mu.Lock()
	path := tracker.captures[0].outputPath
	tracker.mu.Unlock()
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	c.StopNow()
	if c.IsRecording() {
		t.Fatal("slot must be cleared even when the file is missing")
	}
	if len(c.Recordings()) != 0 {
		t.Fatalf("missing output must not be persisted, got %d recordings", len(c.Recordings()))
	}
}

func TestAutoAnalyzeDispatchesOnSave(t *testing.T) {
	analyzer := newFakeAnalyzer(models.AnalysisResult{
		IsFalsePositive: true,
		Confidence:      "high",
		Description:     "lighting change",
	})
	tracker := &fakeCaptureTracker{}
	c := newTestController(t, tracker, WithAnalyzer(analyzer, true))

	c.StartRecording(time.Now())
	c.StopNow()

	select {
	case <-analyzer.done:
	case <-time.After(time.Second):
		t.Fatal("analysis was never dispatched")
	}

	recs := c.Recordings()
	if len(recs) != 1 {
		t.Fatalf("expected 1 recording, got %d", len(recs))
	}
	if recs[0].LLMAnalysis == nil || !recs[0].LLMAnalysis.IsFalsePositive {
		t.Errorf("analysis result was not applied: %+v", recs[0].LLMAnalysis)
	}
}

func TestAnalyzeOnDemandErrors(t *testing.T) {
	tracker := &fakeCaptureTracker{}

	t.Run("no analyzer configured", func(t *testing.T) {
		c := newTestController(t, tracker)
		if err := c.AnalyzeOnDemand("whatever.mp4"); err == nil {
			t.Error("expected error without analyzer")
		}
	})

	t.Run("unknown recording", func(t *testing.T) {
		analyzer := newFakeAnalyzer(models.AnalysisResult{})
		c := newTestController(t, tracker, WithAnalyzer(analyzer, false))
		if err := c.AnalyzeOnDemand("missing.mp4"); err == nil {
			t.Error("expected error for unknown recording")
		}
	})

	t.Run("duplicate request", func(t *testing.T) {
		analyzer := newFakeAnalyzer(models.AnalysisResult{})
		c := newTestController(t, tracker, WithAnalyzer(analyzer, false))
		c.store.Append(models.Recording{Filename: "a.mp4", Screenshots: []string{"a_000.jpg"}})

		if !analyzer.TryStart("a.mp4") {
			t.Fatal("reservation setup failed")
		}
		if err := c.AnalyzeOnDemand("a.mp4"); err == nil {
			t.Error("expected error when analysis is already in flight")
		}
	})
}

func TestToggleFavorite(t *testing.T) {
	tracker := &fakeCaptureTracker{}
	c := newTestController(t, tracker)
	c.store.Append(models.Recording{Filename: "a.mp4"})

	fav, err := c.ToggleFavorite("a.mp4")
	if err != nil || !fav {
		t.Fatalf("expected favorite=true, got %t, %v", fav, err)
	}
	fav, err = c.ToggleFavorite("a.mp4")
	if err != nil || fav {
		t.Fatalf("expected favorite=false, got %t, %v", fav, err)
	}
	if _, err := c.ToggleFavorite("nope.mp4"); err == nil {
		t.Error("expected error for unknown recording")
	}
}

func TestSetFalsePositiveManual(t *testing.T) {
	tracker := &fakeCaptureTracker{}
	c := newTestController(t, tracker)
	c.store.Append(models.Recording{Filename: "a.mp4"})

	if err := c.SetFalsePositive("a.mp4", true); err != nil {
		t.Fatal(err)
	}
	rec, _ := c.store.Find("a.mp4")
	if rec.LLMAnalysis == nil || !rec.LLMAnalysis.IsFalsePositive {
		t.Fatalf("manual flag not applied: %+v", rec.LLMAnalysis)
	}
	if rec.LLMAnalysis.Confidence != "manual" {
		t.Errorf("expected manual confidence, got %s", rec.LLMAnalysis.Confidence)
	}
}

func TestDeleteRecording(t *testing.T) {
	tracker := &fakeCaptureTracker{}
	c := newTestController(t, tracker)
	c.store.Append(models.Recording{Filename: "a.mp4"})
	c.store.Append(models.Recording{Filename: "b.mp4"})

	if err := c.DeleteRecording("a.mp4"); err != nil {
		t.Fatal(err)
	}
	if c.store.Len() != 1 {
		t.Fatalf("expected 1 remaining recording, got %d", c.store.Len())
	}
	if err := c.DeleteRecording("a.mp4"); err == nil {
		t.Error("expected error deleting twice")
	}
}

func TestLatestAndStats(t *testing.T) {
	tracker := &fakeCaptureTracker{}
	c := newTestController(t, tracker)

	if _, ok := c.Latest(); ok {
		t.Fatal("expected no latest recording on empty store")
	}

	c.store.Append(models.Recording{Filename: "old.mp4", StartTime: 100, Filesize: 1024 * 1024})
	c.store.Append(models.Recording{Filename: "new.mp4", StartTime: 200, Filesize: 1024 * 1024})

	latest, ok := c.Latest()
	if !ok || latest.Filename != "new.mp4" {
		t.Fatalf("expected new.mp4 as latest, got %+v", latest)
	}

	stats := c.Stats()
	if stats.TotalRecordings != 2 {
		t.Errorf("expected 2 recordings, got %d", stats.TotalRecordings)
	}
	if stats.TotalSizeMB != 2.0 {
		t.Errorf("expected 2MB total, got %f", stats.TotalSizeMB)
	}
	if stats.LatestRecording != "new.mp4" {
		t.Errorf("expected latest new.mp4, got %s", stats.LatestRecording)
	}
}
