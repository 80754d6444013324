package backups

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/wikisync/pkg/backup"
	"github.com/sidkik/wikisync/pkg/sync"
)

func TestList(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local))
	store := backup.New(t.TempDir(), clock)

	var out bytes.Buffer
	require.NoError(t, list(&out, store, ""))
	assert.Equal(t, "No backups.\n", out.String())

	ctx := context.Background()
	for _, path := range []string{"guide", "faq"} {
		item := sync.NewItem(sync.Local, "/notes/"+path+".md", path, sync.Update, "", clock.Now())
		_, err := store.BackupBeforeOverwrite(ctx, sync.Remote, item,
			sync.SideState{Side: sync.Remote, Exists: true, Content: "# " + path})
		require.NoError(t, err)
	}

	out.Reset()
	require.NoError(t, list(&out, store, "guide"))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID "))
	assert.Contains(t, lines[1], "guide")
	assert.Contains(t, lines[1], "remote")
	assert.True(t, strings.HasSuffix(lines[1], "2024-03-01 09:30:00"))

	out.Reset()
	require.NoError(t, list(&out, store, ""))
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 3)
}
