package recorder

import (
	"testing"
	"time"

	"github.com/ESJavadex/security-ha-addon/internal/models"
)

func retentionFixture(t *testing.T, maxRecordings int) (*Store, *RetentionPolicy) {
	t.Helper()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p := NewRetentionPolicy(store, maxRecordings)
	return store, p
}

func fpRecording(filename string, start float64) models.Recording {
	return models.Recording{
		Filename:  filename,
		StartTime: start,
		LLMAnalysis: &models.AnalysisResult{
			IsFalsePositive: true,
			Confidence:      "high",
		},
	}
}

func filenames(recs []models.Recording) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Filename
	}
	return out
}

func TestCountCapRemovesOldest(t *testing.T) {
	store, p := retentionFixture(t, 2)
	store.Append(models.Recording{Filename: "a.mp4", StartTime: 100})
	store.Append(models.Recording{Filename: "b.mp4", StartTime: 200})
	store.Append(models.Recording{Filename: "c.mp4", StartTime: 300})

	p.Apply()

	got := filenames(store.List())
	if len(got) != 2 || got[0] != "b.mp4" || got[1] != "c.mp4" {
		t.Fatalf("expected oldest removed, got %v", got)
	}
}

func TestZeroCapMeansUnlimited(t *testing.T) {
	store, p := retentionFixture(t, 0)
	for i := 0; i < 10; i++ {
		store.Append(models.Recording{Filename: string(rune('a'+i)) + ".mp4", StartTime: float64(i)})
	}

	p.Apply()

	if store.Len() != 10 {
		t.Fatalf("cap of 0 must keep everything, got %d", store.Len())
	}
}

func TestExpiredFalsePositivesRemoved(t *testing.T) {
	store, p := retentionFixture(t, 0)
	now := time.Now()
	p.now = func() time.Time { return now }

	store.Append(fpRecording("old_fp.mp4", models.UnixSeconds(now.Add(-80*time.Hour))))
	store.Append(fpRecording("fresh_fp.mp4", models.UnixSeconds(now.Add(-10*time.Hour))))
	store.Append(models.Recording{Filename: "real.mp4", StartTime: models.UnixSeconds(now.Add(-200 * time.Hour))})

	p.Apply()

	got := filenames(store.List())
	if len(got) != 2 {
		t.Fatalf("expected 2 survivors, got %v", got)
	}
	for _, name := range got {
		if name == "old_fp.mp4" {
			t.Fatal("expired false positive must be removed")
		}
	}
}

// Expired false positives must not count against the cap: the cap applies to
// what survives the first pass.
func TestFalsePositivePassRunsBeforeCountCap(t *testing.T) {
	store, p := retentionFixture(t, 2)
	now := time.Now()
	p.now = func() time.Time { return now }

	store.Append(fpRecording("old_fp.mp4", models.UnixSeconds(now.Add(-100*time.Hour))))
	store.Append(models.Recording{Filename: "a.mp4", StartTime: models.UnixSeconds(now.Add(-3 * time.Hour))})
	store.Append(models.Recording{Filename: "b.mp4", StartTime: models.UnixSeconds(now.Add(-2 * time.Hour))})
	store.Append(models.Recording{Filename: "c.mp4", StartTime: models.UnixSeconds(now.Add(-1 * time.Hour))})

	p.Apply()

	got := filenames(store.List())
	if len(got) != 2 || got[0] != "b.mp4" || got[1] != "c.mp4" {
		t.Fatalf("expected b.mp4 and c.mp4 to survive, got %v", got)
	}
}

// Favorites receive no exemption from either pass.
func TestFavoritesAreNotExempt(t *testing.T) {
	store, p := retentionFixture(t, 1)
	store.Append(models.Recording{Filename: "fav.mp4", StartTime: 100, Favorite: true})
	store.Append(models.Recording{Filename: "new.mp4", StartTime: 200})

	p.Apply()

	got := filenames(store.List())
	if len(got) != 1 || got[0] != "new.mp4" {
		t.Fatalf("favorite must still be evicted by age order, got %v", got)
	}
}

func TestUnanalyzedNeverExpires(t *testing.T) {
	store, p := retentionFixture(t, 0)
	now := time.Now()
	p.now = func() time.Time { return now }

	store.Append(models.Recording{Filename: "ancient.mp4", StartTime: models.UnixSeconds(now.Add(-1000 * time.Hour))})

	p.Apply()

	if store.Len() != 1 {
		t.Fatal("recordings without an analysis must never age out")
	}
}
