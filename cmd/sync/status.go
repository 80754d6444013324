package sync

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/buger/goterm"

	"github.com/sidkik/wikisync/pkg/engine"
)

// Mocked out for unit testing.
var stdout io.Writer = os.Stdout

type statusString struct {
	color int
	phase string
	path  string
	msg   string
}

func (ss statusString) String() string {
	msg := fmt.Sprintf("%-10s %s", ss.phase, ss.path)
	if ss.msg != "" {
		msg += ": " + ss.msg
	}
	return goterm.Color(msg, ss.color)
}

// eventStatusString describes an engine event for the terminal. Events that
// aren't worth printing return false.
func eventStatusString(ev engine.Event) (statusString, bool) {
	switch ev := ev.(type) {
	case engine.SyncCompleted:
		if ev.Skipped {
			return statusString{}, false
		}
		return statusString{
			phase: "synced",
			path:  ev.Item.Path,
			msg:   fmt.Sprintf("%s %s", ev.Item.Origin, ev.Item.Kind),
			color: goterm.GREEN,
		}, true
	case engine.SyncError:
		return statusString{
			phase: "failed",
			path:  ev.Item.Path,
			msg:   ev.Err.Error(),
			color: goterm.RED,
		}, true
	case engine.ConflictDetected:
		return statusString{
			phase: "conflict",
			path:  ev.Conflict.Item.Path,
			msg:   ev.Conflict.Message,
			color: goterm.YELLOW,
		}, true
	case engine.ConflictResolved:
		return statusString{
			phase: "resolved",
			path:  ev.Conflict.Item.Path,
			msg:   string(ev.Resolution.Strategy),
			color: goterm.GREEN,
		}, true
	}
	return statusString{}, false
}

func printEvents(ctx context.Context, events <-chan engine.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ss, ok := eventStatusString(ev); ok {
				fmt.Fprintln(stdout, ss)
			}
		}
	}
}
