// Package backup keeps copies of documents before they're overwritten, and
// the last content both sides agreed on for use as a merge base.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	goSync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/wikisync/pkg/errors"
	"github.com/sidkik/wikisync/pkg/sync"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

const (
	backupsDir = "backups"
	basesDir   = "base"
	indexFile  = "index.json"

	dirPerm  = 0750
	filePerm = 0640
)

// Metadata describes a single backup.
type Metadata struct {
	ID          string      `json:"id"`
	Path        string      `json:"path"`
	Side        sync.Origin `json:"side"`
	File        string      `json:"file"`
	Fingerprint string      `json:"fingerprint"`
	ItemID      string      `json:"itemID"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Store implements sync.Backup and sync.BaseStore on top of a directory,
// usually `<root>/.wikisync`.
type Store struct {
	dir   string
	clock clockwork.Clock

	// lock guards the index file.
	lock goSync.Mutex
}

// New returns a Store that writes under `dir`.
func New(dir string, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{dir: dir, clock: clock}
}

// BackupBeforeOverwrite copies the current content of `side` into the backup
// directory and returns the backup's ID. Sides that don't exist have nothing
// to lose, so no backup is made and the ID is empty.
func (s *Store) BackupBeforeOverwrite(ctx context.Context, side sync.Origin, item sync.Item,
	current sync.SideState) (string, error) {
	if !current.Exists {
		return "", nil
	}

	id := uuid.New().String()
	now := s.clock.Now()
	name := fmt.Sprintf("%s-%s%s", now.UTC().Format("20060102-150405"), id[:8], sync.DocumentExt)
	file := filepath.Join(s.dir, backupsDir, string(side), filepath.FromSlash(item.Path), name)

	if err := fs.MkdirAll(filepath.Dir(file), dirPerm); err != nil {
		return "", errors.WithContext(err, "create backup directory")
	}
	if err := afero.WriteFile(fs, file, []byte(current.Content), filePerm); err != nil {
		return "", errors.WithContext(err, "write backup")
	}

	meta := Metadata{
		ID:          id,
		Path:        item.Path,
		Side:        side,
		File:        file,
		Fingerprint: current.Fingerprint,
		ItemID:      item.ID,
		CreatedAt:   now,
	}
	if err := s.addToIndex(meta); err != nil {
		return "", errors.WithContext(err, "update backup index")
	}

	log.WithFields(log.Fields{
		"path": item.Path,
		"side": side,
		"file": file,
	}).Debug("Backed up document")
	return id, nil
}

// List returns the backups of `docPath`, oldest first. All backups are
// returned if `docPath` is empty.
func (s *Store) List(docPath string) ([]Metadata, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return nil, err
	}

	var backups []Metadata
	for _, meta := range index {
		if docPath == "" || meta.Path == docPath {
			backups = append(backups, meta)
		}
	}
	sort.Slice(backups, func(i, j int) bool {
		if backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].ID < backups[j].ID
		}
		return backups[i].CreatedAt.Before(backups[j].CreatedAt)
	})
	return backups, nil
}

// Read returns the content saved by the backup with the given ID.
func (s *Store) Read(id string) (string, error) {
	s.lock.Lock()
	index, err := s.readIndex()
	s.lock.Unlock()
	if err != nil {
		return "", err
	}

	meta, ok := index[id]
	if !ok {
		return "", errors.NewFriendlyError("backup %q does not exist", id)
	}

	content, err := afero.ReadFile(fs, meta.File)
	if err != nil {
		return "", errors.WithContext(err, "read backup")
	}
	return string(content), nil
}

// Prune removes backups older than `maxAge`, and returns how many were
// removed.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return 0, err
	}

	cutoff := s.clock.Now().Add(-maxAge)
	var removed int
	for id, meta := range index {
		if !meta.CreatedAt.Before(cutoff) {
			continue
		}
		if err := fs.Remove(meta.File); err != nil && !os.IsNotExist(err) {
			log.WithError(err).WithField("file", meta.File).Warn("Failed to remove old backup")
			continue
		}
		delete(index, id)
		removed++
	}

	if removed == 0 {
		return 0, nil
	}
	return removed, s.writeIndex(index)
}

func (s *Store) addToIndex(meta Metadata) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return err
	}
	index[meta.ID] = meta
	return s.writeIndex(index)
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, backupsDir, indexFile)
}

func (s *Store) readIndex() (map[string]Metadata, error) {
	index := map[string]Metadata{}
	content, err := afero.ReadFile(fs, s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return index, nil
		}
		return nil, errors.WithContext(err, "read index")
	}

	if err := json.Unmarshal(content, &index); err != nil {
		return nil, errors.WithContext(err, "parse index")
	}
	return index, nil
}

func (s *Store) writeIndex(index map[string]Metadata) error {
	content, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return errors.WithContext(err, "marshal index")
	}
	return writeAtomic(s.indexPath(), content)
}

// FindBase returns the last content that both sides agreed on for
// `docPath`.
func (s *Store) FindBase(docPath string) (string, bool) {
	content, err := afero.ReadFile(fs, s.basePath(docPath))
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).WithField("path", docPath).Warn("Failed to read merge base")
		}
		return "", false
	}
	return string(content), true
}

// RecordBase saves `content` as the merge base for `docPath`.
func (s *Store) RecordBase(docPath, content string) error {
	return writeAtomic(s.basePath(docPath), []byte(content))
}

func (s *Store) basePath(docPath string) string {
	return filepath.Join(s.dir, basesDir, filepath.FromSlash(docPath)+sync.DocumentExt)
}

func writeAtomic(path string, content []byte) error {
	if err := fs.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return errors.WithContext(err, "create directory")
	}

	tmpPath := path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, content, filePerm); err != nil {
		return errors.WithContext(err, "write")
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		return errors.WithContext(err, "rename")
	}
	return nil
}
