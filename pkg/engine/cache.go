package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/wikisync/pkg/conflict"
	"github.com/sidkik/wikisync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// CachedConflict is the view of a pending conflict that's written to the
// conflict cache.
type CachedConflict struct {
	ID             string            `json:"id"`
	Type           conflict.Type     `json:"type"`
	Severity       conflict.Severity `json:"severity"`
	Message        string            `json:"message"`
	Path           string            `json:"path"`
	Origin         string            `json:"origin"`
	AutoResolvable bool              `json:"autoResolvable"`
	DetectedAt     time.Time         `json:"detectedAt"`
	Regions        []conflict.Region `json:"regions,omitempty"`
}

// ConflictCache is the contents of the conflict cache file.
type ConflictCache struct {
	UpdatedAt time.Time        `json:"updatedAt"`
	Conflicts []CachedConflict `json:"conflicts"`
}

// ReadConflictCache reads the conflicts written by a running engine. A
// missing cache means there are no conflicts.
func ReadConflictCache(path string) (ConflictCache, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return ConflictCache{}, nil
		}
		return ConflictCache{}, errors.WithContext(err, "read")
	}

	var cache ConflictCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return ConflictCache{}, errors.WithContext(err, "parse")
	}
	return cache, nil
}

func (e *Engine) writeConflictCache() {
	if e.opts.ConflictCache == "" {
		return
	}

	cache := ConflictCache{
		UpdatedAt: e.opts.Clock.Now(),
		Conflicts: []CachedConflict{},
	}
	for _, c := range e.GetConflicts() {
		cache.Conflicts = append(cache.Conflicts, toCached(c))
	}

	if err := writeJSON(e.opts.ConflictCache, cache); err != nil {
		log.WithError(err).Warn("Failed to write conflict cache")
	}
}

func toCached(c conflict.Conflict) CachedConflict {
	cached := CachedConflict{
		ID:             c.ID,
		Type:           c.Type,
		Severity:       c.Severity,
		Message:        c.Message,
		Path:           c.Item.Path,
		Origin:         string(c.Item.Origin),
		AutoResolvable: c.AutoResolvable,
		DetectedAt:     c.DetectedAt,
	}
	switch ev := c.Context.(type) {
	case conflict.ContentEvidence:
		cached.Regions = ev.Regions
	case conflict.MergeEvidence:
		cached.Regions = ev.Regions
	}
	return cached
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithContext(err, "create directory")
	}

	tmpPath := path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, data, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return fs.Rename(tmpPath, path)
}
