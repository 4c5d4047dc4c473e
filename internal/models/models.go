package models

import "time"

// UnixSeconds converts a time to float seconds since epoch, the timestamp
// format used throughout the persisted metadata. Zero times map to 0.
func UnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// MotionState is the detector's confirmation state.
type MotionState string

const (
	StateIdle      MotionState = "idle"
	StateDetecting MotionState = "detecting" // motion seen, waiting for min_duration
	StateActive    MotionState = "active"    // motion confirmed
)

// ROI is a rectangular detection zone expressed as percentage bounds (0-100).
type ROI struct {
	XStart int `yaml:"x_start" json:"roi_x_start"`
	XEnd   int `yaml:"x_end" json:"roi_x_end"`
	YStart int `yaml:"y_start" json:"roi_y_start"`
	YEnd   int `yaml:"y_end" json:"roi_y_end"`
}

// ClampPct forces a percentage into the 0-100 range.
func ClampPct(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Clamp forces every bound into the 0-100 range.
func (r ROI) Clamp() ROI {
	return ROI{
		XStart: ClampPct(r.XStart),
		XEnd:   ClampPct(r.XEnd),
		YStart: ClampPct(r.YStart),
		YEnd:   ClampPct(r.YEnd),
	}
}

// Settings are the live-reloadable detection parameters, persisted as JSON so
// the web UI and Home Assistant can rewrite them while the detector runs.
type Settings struct {
	ROIXStart       int     `json:"roi_x_start"`
	ROIXEnd         int     `json:"roi_x_end"`
	ROIYStart       int     `json:"roi_y_start"`
	ROIYEnd         int     `json:"roi_y_end"`
	MotionThreshold int     `json:"motion_threshold"`
	Cooldown        float64 `json:"cooldown"`
}

// Recording is one captured clip. Timestamps are seconds since epoch to keep
// the metadata file readable by the existing Home Assistant sensors.
type Recording struct {
	Filename    string          `json:"filename"`
	Filepath    string          `json:"filepath"`
	StartTime   float64         `json:"start_time"`
	EndTime     float64         `json:"end_time,omitempty"`
	Duration    float64         `json:"duration,omitempty"`
	Filesize    int64           `json:"filesize,omitempty"`
	Thumbnail   string          `json:"thumbnail,omitempty"`
	Screenshots []string        `json:"screenshots,omitempty"`
	Favorite    bool            `json:"favorite"`
	LLMAnalysis *AnalysisResult `json:"llm_analysis,omitempty"`
}

// IsFalsePositive reports whether analysis classified the clip as a false
// positive. Unanalyzed recordings are never false positives.
func (r Recording) IsFalsePositive() bool {
	return r.LLMAnalysis != nil && r.LLMAnalysis.IsFalsePositive
}

// AnalysisResult is the outcome of one vision-model classification run.
// Confidence is "high", "medium", "low" or "manual" for user overrides.
type AnalysisResult struct {
	IsFalsePositive bool   `json:"is_false_positive"`
	Confidence      string `json:"confidence"`
	Description     string `json:"description"`
	AnalyzedAt      string `json:"analyzed_at"`
	ModelUsed       string `json:"model_used"`
	HasActivity     bool   `json:"has_activity"`
	HasPerson       bool   `json:"has_person"`
	HasVehicle      bool   `json:"has_vehicle"`
	HasAnimal       bool   `json:"has_animal"`
	HasDelivery     bool   `json:"has_delivery"`
	Error           string `json:"error,omitempty"`
}

// MotionStats is the detector state snapshot polled by the reporting sink.
type MotionStats struct {
	State           MotionState `json:"state"`
	MotionDetected  bool        `json:"is_motion_active"`
	LastMotionTime  float64     `json:"last_motion_time,omitempty"`
	FramesProcessed int         `json:"frames_processed"`
	MotionEvents    int         `json:"motion_events"`
	ROI             ROI         `json:"roi"`
	MotionThreshold int         `json:"motion_threshold"`
}

// RecordingStats is the recorder snapshot polled by the reporting sink.
type RecordingStats struct {
	IsRecording         bool    `json:"is_recording"`
	TotalRecordings     int     `json:"total_recordings"`
	TotalSizeMB         float64 `json:"total_size_mb"`
	LatestRecording     string  `json:"latest_recording,omitempty"`
	LatestRecordingTime float64 `json:"latest_recording_time,omitempty"`
	LatestThumbnail     string  `json:"latest_thumbnail,omitempty"`
}

// SensorState is what Home Assistant reads, either from the state file or the
// /api/state endpoint. Timestamps are ISO strings for template sensors.
type SensorState struct {
	MotionDetected      bool   `json:"motion_detected"`
	MotionState         string `json:"motion_state"`
	LastMotionTime      string `json:"last_motion_time,omitempty"`
	IsRecording         bool   `json:"is_recording"`
	TotalRecordings     int    `json:"total_recordings"`
	LatestRecording     string `json:"latest_recording,omitempty"`
	LatestRecordingTime string `json:"latest_recording_time,omitempty"`
	LatestThumbnail     string `json:"latest_thumbnail,omitempty"`
	UptimeSeconds       int    `json:"uptime_seconds"`
	FramesProcessed     int    `json:"frames_processed"`
	MotionEventsToday   int    `json:"motion_events_today"`
}
