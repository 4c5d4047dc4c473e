package detector

import (
	"encoding/json"
	"os"

	"github.com/ESJavadex/security-ha-addon/internal/logger"
	"github.com/ESJavadex/security-ha-addon/internal/models"
)

// liveSettings mirrors the settings file with pointer fields so that absent
// keys leave the current values untouched.
type liveSettings struct {
	ROIXStart       *int     `json:"roi_x_start"`
	ROIXEnd         *int     `json:"roi_x_end"`
	ROIYStart       *int     `json:"roi_y_start"`
	ROIYEnd         *int     `json:"roi_y_end"`
	MotionThreshold *int     `json:"motion_threshold"`
	Cooldown        *float64 `json:"cooldown"`
}

// reloadSettings re-reads the settings file if its modification time advanced
// since the last check. All reloaded values are applied together under the
// same lock the state machine uses, so a sample never sees a partial update.
func (d *Detector) reloadSettings() {
	if d.settingsFile == "" {
		return
	}

	fi, err := os.Stat(d.settingsFile)
	if err != nil {
		return
	}
	if !fi.ModTime().After(d.settingsMtime) {
		return
	}

	data, err := os.ReadFile(d.settingsFile)
	if err != nil {
		logger.Warnf("error reading settings file: %v", err)
		return
	}

	var s liveSettings
	if err := json.Unmarshal(data, &s); err != nil {
		logger.Warnf("error parsing settings file: %v", err)
		return
	}

	d.settingsMtime = fi.ModTime()

	d.mu.Lock()
	defer d.mu.Unlock()

	changed := false
	if s.ROIXStart != nil && models.ClampPct(*s.ROIXStart) != d.roi.XStart {
		d.roi.XStart = models.ClampPct(*s.ROIXStart)
		changed = true
	}
	if s.ROIXEnd != nil && models.ClampPct(*s.ROIXEnd) != d.roi.XEnd {
		d.roi.XEnd = models.ClampPct(*s.ROIXEnd)
		changed = true
	}
	if s.ROIYStart != nil && models.ClampPct(*s.ROIYStart) != d.roi.YStart {
		d.roi.YStart = models.ClampPct(*s.ROIYStart)
		changed = true
	}
	if s.ROIYEnd != nil && models.ClampPct(*s.ROIYEnd) != d.roi.YEnd {
		d.roi.YEnd = models.ClampPct(*s.ROIYEnd)
		changed = true
	}
	if s.MotionThreshold != nil {
		t := *s.MotionThreshold
		if t < 0 {
			t = 0
		}
		if t != d.threshold {
			d.threshold = t
			changed = true
		}
	}
	if s.Cooldown != nil {
		cd := secondsToDuration(*s.Cooldown)
		if cd < 0 {
			cd = 0
		}
		if cd != d.cooldown {
			d.cooldown = cd
			changed = true
		}
	}

	if changed {
		logger.Infof("settings reloaded: roi x=%d%%-%d%%, y=%d%%-%d%%, threshold=%d, cooldown=%s",
			d.roi.XStart, d.roi.XEnd, d.roi.YStart, d.roi.YEnd, d.threshold, d.cooldown)
	}
}
