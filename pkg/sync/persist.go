package sync

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/sidkik/wikisync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// stateFileVersion is bumped whenever the on-disk format changes.
const stateFileVersion = 1

type stateFile struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// FilePersister stores the sync state as a JSON file.
type FilePersister struct {
	Path string
}

// NewFilePersister returns a persister that reads and writes `path`.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{Path: path}
}

// Load reads the state file. A missing file is an empty state.
func (p *FilePersister) Load() (map[string]Entry, error) {
	data, err := afero.ReadFile(fs, p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry{}, nil
		}
		return nil, errors.WithContext(err, "read state file")
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.WithContext(err, "parse state file")
	}
	if state.Version != stateFileVersion {
		return nil, errors.NewFriendlyError("The sync state file %q has version %d, "+
			"but this version of wikisync expects version %d.",
			p.Path, state.Version, stateFileVersion)
	}

	if state.Entries == nil {
		state.Entries = map[string]Entry{}
	}
	return state.Entries, nil
}

// Save writes the state file. The file is written to a temporary path and
// renamed into place so that a crash never leaves a truncated state file.
func (p *FilePersister) Save(entries map[string]Entry) error {
	if err := fs.MkdirAll(filepath.Dir(p.Path), 0755); err != nil {
		return errors.WithContext(err, "create state directory")
	}

	data, err := json.MarshalIndent(stateFile{
		Version: stateFileVersion,
		Entries: entries,
	}, "", "  ")
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	tmpPath := p.Path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, data, 0644); err != nil {
		return errors.WithContext(err, "write")
	}

	if err := fs.Rename(tmpPath, p.Path); err != nil {
		return errors.WithContext(err, "rename")
	}
	return nil
}
