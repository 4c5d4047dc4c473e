package recorder

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ESJavadex/security-ha-addon/internal/logger"
	"github.com/ESJavadex/security-ha-addon/internal/models"
)

// falsePositiveMaxAge is how long classified false positives are kept before
// they expire.
const falsePositiveMaxAge = 72 * time.Hour

// RetentionPolicy removes expired false positives, then enforces the count
// cap on whatever survives the first pass. The two passes must run in that
// order in one batch: counting step-1 removals against the cap would
// under-evict.
type RetentionPolicy struct {
	store         *Store
	maxRecordings int // 0 = unlimited
	now           func() time.Time
}

func NewRetentionPolicy(store *Store, maxRecordings int) *RetentionPolicy {
	return &RetentionPolicy{
		store:         store,
		maxRecordings: maxRecordings,
		now:           time.Now,
	}
}

// Apply runs both passes and persists the set once for the whole batch.
func (p *RetentionPolicy) Apply() {
	removed := p.store.RemoveBatch(p.selectRemovals, deleteRecordingFiles)
	if removed > 0 {
		logger.Infof("retention removed %d recording(s)", removed)
	}
}

func (p *RetentionPolicy) selectRemovals(recs []models.Recording) []models.Recording {
	var out []models.Recording
	marked := make(map[string]bool)
	now := models.UnixSeconds(p.now())

	for _, r := range recs {
		if r.IsFalsePositive() && r.StartTime > 0 && now-r.StartTime > falsePositiveMaxAge.Seconds() {
			out = append(out, r)
			marked[r.Filename] = true
			logger.Infof("auto-removing false positive (>72h): %s", r.Filename)
		}
	}

	if p.maxRecordings > 0 {
		remaining := make([]models.Recording, 0, len(recs))
		for _, r := range recs {
			if !marked[r.Filename] {
				remaining = append(remaining, r)
			}
		}
		if len(remaining) > p.maxRecordings {
			sort.Slice(remaining, func(i, j int) bool {
				return remaining[i].StartTime < remaining[j].StartTime
			})
			for _, r := range remaining[:len(remaining)-p.maxRecordings] {
				out = append(out, r)
				logger.Infof("removing old recording (over limit): %s", r.Filename)
			}
		}
	}

	return out
}

// deleteRecordingFiles removes the clip and its screenshots, tolerating files
// that are already gone.
func deleteRecordingFiles(rec models.Recording) {
	if err := os.Remove(rec.Filepath); err != nil && !os.IsNotExist(err) {
		logger.Errorf("error removing recording file %s: %v", rec.Filename, err)
	}

	dir := filepath.Dir(rec.Filepath)
	if len(rec.Screenshots) > 0 {
		for _, shot := range rec.Screenshots {
			if err := os.Remove(filepath.Join(dir, shot)); err != nil && !os.IsNotExist(err) {
				logger.Errorf("error removing screenshot %s: %v", shot, err)
			}
		}
	} else if rec.Thumbnail != "" {
		// Older recordings carried a single thumbnail path instead of a
		// screenshot list.
		if err := os.Remove(rec.Thumbnail); err != nil && !os.IsNotExist(err) {
			logger.Errorf("error removing thumbnail for %s: %v", rec.Filename, err)
		}
	}
}
