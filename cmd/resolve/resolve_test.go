package resolve

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/wikisync/pkg/conflict"
	"github.com/sidkik/wikisync/pkg/engine"
	"github.com/sidkik/wikisync/pkg/errors"
)

func TestRequest(t *testing.T) {
	dir := t.TempDir()
	cacheFile := filepath.Join(dir, "conflicts.json")
	requestDir := filepath.Join(dir, "resolve")

	cache, err := json.Marshal(engine.ConflictCache{
		Conflicts: []engine.CachedConflict{{ID: "1234", Path: "guide", Type: conflict.BothChanged}},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cacheFile, cache, 0644))

	fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "merged.md", []byte("# Guide\n"), 0644))
	require.NoError(t, afero.WriteFile(fs, "unmerged.md",
		[]byte("<<<<<<< LOCAL\na\n=======\nb\n>>>>>>> REMOTE\n"), 0644))

	tests := []struct {
		name       string
		id         string
		strategy   conflict.Strategy
		file       string
		expError   error
		expRequest engine.ResolveRequest
	}{
		{
			name:     "UnknownStrategy",
			id:       "1234",
			strategy: "coin_flip",
			expError: errors.NewFriendlyError("Unknown strategy %q. Use one of: %s.",
				conflict.Strategy("coin_flip"), strategyList()),
		},
		{
			name:     "UnknownConflict",
			id:       "5678",
			strategy: conflict.UseLocal,
			expError: errors.NewFriendlyError("There's no pending conflict with ID %q.\n"+
				"Run `wikisync conflicts` to list them.", "5678"),
		},
		{
			name:     "MissingContent",
			id:       "1234",
			strategy: conflict.UseCustom,
			expError: errors.NewFriendlyError("The %s strategy needs the replacement "+
				"content. Pass it with --file.", conflict.UseCustom),
		},
		{
			name:     "UnresolvedMarkers",
			id:       "1234",
			strategy: conflict.ManualMerge,
			file:     "unmerged.md",
			expError: errors.NewFriendlyError("%s still has conflict markers. "+
				"Remove them before resolving.", "unmerged.md"),
		},
		{
			name:       "UseLocal",
			id:         "1234",
			strategy:   conflict.UseLocal,
			expRequest: engine.ResolveRequest{ID: "1234", Strategy: conflict.UseLocal},
		},
		{
			name:     "ManualMerge",
			id:       "1234",
			strategy: conflict.ManualMerge,
			file:     "merged.md",
			expRequest: engine.ResolveRequest{
				ID:       "1234",
				Strategy: conflict.ManualMerge,
				Content:  "# Guide\n",
			},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			require.NoError(t, os.RemoveAll(requestDir))

			var out bytes.Buffer
			err := request(&out, cacheFile, requestDir, test.id, test.strategy, test.file)
			assert.Equal(t, test.expError, err)
			if test.expError != nil {
				_, statErr := os.Stat(requestDir)
				assert.True(t, os.IsNotExist(statErr))
				return
			}

			assert.Contains(t, out.String(), "Requested "+string(test.strategy)+" for guide.")
			data, err := os.ReadFile(filepath.Join(requestDir, test.id+".json"))
			require.NoError(t, err)

			var req engine.ResolveRequest
			require.NoError(t, json.Unmarshal(data, &req))
			assert.Equal(t, test.expRequest, req)
		})
	}
}
