package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ESJavadex/security-ha-addon/internal/logger"
	"github.com/ESJavadex/security-ha-addon/internal/models"
)

const metadataFilename = "recordings.json"

// Store owns the durable recording set. Every mutation happens under one lock
// and rewrites the full metadata file atomically, so readers (the HTTP layer,
// Home Assistant sensors) never observe a partial write.
type Store struct {
	mu         sync.Mutex
	path       string
	recordings []models.Recording
}

// OpenStore loads the recording set from dir, creating the directory if
// needed. A corrupt metadata file is logged and treated as empty rather than
// refusing to start.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	s := &Store{path: filepath.Join(dir, metadataFilename)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &s.recordings); err != nil {
		logger.Errorf("error loading metadata, starting empty: %v", err)
		s.recordings = nil
	}
	return s, nil
}

// List returns a copy of the recording set in insertion order.
func (s *Store) List() []models.Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Recording, len(s.recordings))
	copy(out, s.recordings)
	return out
}

// Find returns the recording with the given filename.
func (s *Store) Find(filename string) (models.Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recordings {
		if r.Filename == filename {
			return r, true
		}
	}
	return models.Recording{}, false
}

// Len returns the number of persisted recordings.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recordings)
}

// Append adds a completed recording and persists the set.
func (s *Store) Append(rec models.Recording) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings = append(s.recordings, rec)
	s.save()
}

// Update applies fn to the matching recording and persists the set. Returns
// false when the filename is unknown, e.g. because retention removed it while
// an analysis was in flight.
func (s *Store) Update(filename string, fn func(*models.Recording)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.recordings {
		if s.recordings[i].Filename == filename {
			fn(&s.recordings[i])
			s.save()
			return true
		}
	}
	return false
}

// RemoveBatch runs selector over the current set, deletes the selected
// recordings' files via deleteFiles, drops them from the set and persists
// once for the whole batch. Returns the number of removed recordings.
func (s *Store) RemoveBatch(selector func([]models.Recording) []models.Recording, deleteFiles func(models.Recording)) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]models.Recording, len(s.recordings))
	copy(snapshot, s.recordings)

	toRemove := selector(snapshot)
	if len(toRemove) == 0 {
		return 0
	}

	remove := make(map[string]bool, len(toRemove))
	for _, r := range toRemove {
		if !remove[r.Filename] {
			remove[r.Filename] = true
			deleteFiles(r)
		}
	}

	kept := s.recordings[:0]
	for _, r := range s.recordings {
		if !remove[r.Filename] {
			kept = append(kept, r)
		}
	}
	removed := len(s.recordings) - len(kept)
	s.recordings = kept
	s.save()
	return removed
}

// save rewrites the metadata file via a temp file and rename. Failures are
// logged; the in-memory set stays authoritative and the next successful save
// retries naturally.
func (s *Store) save() {
	data, err := json.MarshalIndent(s.recordings, "", "  ")
	if err != nil {
		logger.Errorf("error marshaling metadata: %v", err)
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logger.Errorf("error saving metadata: %v", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		logger.Errorf("error saving metadata: %v", err)
	}
}
