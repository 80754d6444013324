package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/wikisync/pkg/conflict"
	"github.com/sidkik/wikisync/pkg/errors"
)

// ResolveRequest asks a running engine to resolve one of its pending
// conflicts.
type ResolveRequest struct {
	ID       string            `json:"id"`
	Strategy conflict.Strategy `json:"strategy"`
	Content  string            `json:"content,omitempty"`
}

// WriteResolveRequest leaves `req` in `dir`, where the engine picks it up
// before its next batch.
func WriteResolveRequest(dir string, req ResolveRequest) error {
	if err := writeJSON(filepath.Join(dir, req.ID+".json"), req); err != nil {
		return errors.WithContext(err, "write resolve request")
	}
	return nil
}

// applyResolveRequests resolves the conflicts requested through
// WriteResolveRequest. A request is removed once it has been tried, so a
// failed resolution has to be requested again.
func (e *Engine) applyResolveRequests(ctx context.Context) {
	dir := e.opts.ResolveRequests
	if dir == "" {
		return
	}

	files, err := afero.ReadDir(fs, dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warn("Failed to read resolve requests")
		}
		return
	}

	for _, f := range files {
		// Requests that are still being written end in .tmp.
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}

		path := filepath.Join(dir, f.Name())
		req, err := readResolveRequest(path)
		if rmErr := fs.Remove(path); rmErr != nil {
			log.WithError(rmErr).WithField("path", path).Warn("Failed to remove resolve request")
		}
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("Ignoring invalid resolve request")
			continue
		}

		_, err = e.ResolveConflict(ctx, req.ID, conflict.Resolution{
			Strategy: req.Strategy,
			Content:  req.Content,
		})
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"id":       req.ID,
				"strategy": req.Strategy,
			}).Error("Failed to resolve conflict")
		}
	}
}

func readResolveRequest(path string) (ResolveRequest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return ResolveRequest{}, errors.WithContext(err, "read")
	}

	var req ResolveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ResolveRequest{}, errors.WithContext(err, "parse")
	}
	return req, nil
}
