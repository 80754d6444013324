// Package notify tells people about conflicts and sync errors.
package notify

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sidkik/wikisync/pkg/sync"
	"github.com/sidkik/wikisync/pkg/version"
)

// Mocked out for unit testing.
var httpPost = http.Post

const (
	contentType = "application/json"

	eventStream   = "events"
	loggingStream = "logging"
)

// webhookFormatter formats entries as flat JSON objects.
var webhookFormatter = &logrus.JSONFormatter{
	FieldMap: logrus.FieldMap{
		logrus.FieldKeyTime:  "timestamp",
		logrus.FieldKeyLevel: "status",
		logrus.FieldKeyMsg:   "message",
	},
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

// Notify implements sync.Notifier.
func (LogNotifier) Notify(eventType string, payload map[string]interface{}) {
	entry := logrus.WithFields(logrus.Fields(payload)).WithField("event", eventType)
	switch {
	case eventType == "sync:error":
		entry.Error("Sync failed")
	case strings.HasPrefix(eventType, "conflict:"):
		entry.Warn("Conflict")
	default:
		entry.Info("Sync event")
	}
}

// WebhookNotifier POSTs every notification as JSON to a URL.
type WebhookNotifier struct {
	logger *logrus.Logger
}

// NewWebhookNotifier returns a notifier that posts to `url`.
func NewWebhookNotifier(url string) *WebhookNotifier {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.AddHook(&hook{logrus.AllLevels, eventStream, url})
	return &WebhookNotifier{logger}
}

// Notify implements sync.Notifier.
func (n *WebhookNotifier) Notify(eventType string, payload map[string]interface{}) {
	entry := n.logger.WithFields(logrus.Fields(payload)).WithField("event", eventType)
	if eventType == "sync:error" {
		entry.Error(eventType)
	} else {
		entry.Info(eventType)
	}
}

// NewLogHook returns a hook that forwards warnings and errors from the
// process log to `url`.
func NewLogHook(url string) logrus.Hook {
	levels := []logrus.Level{logrus.WarnLevel, logrus.ErrorLevel}
	return &hook{levels, loggingStream, url}
}

// Multi fans notifications out to several notifiers.
type Multi []sync.Notifier

// Notify implements sync.Notifier.
func (m Multi) Notify(eventType string, payload map[string]interface{}) {
	for _, n := range m {
		n.Notify(eventType, payload)
	}
}

type hook struct {
	levels     []logrus.Level
	streamType string
	url        string
}

func (h *hook) Levels() []logrus.Level {
	return h.levels
}

func (h *hook) Fire(entry *logrus.Entry) error {
	dataCopy := map[string]interface{}{
		"source":  "wikisync",
		"stream":  h.streamType,
		"version": version.Version,
	}
	for k, v := range entry.Data {
		dataCopy[k] = v
	}

	// Copy the entry so that the caller's fields aren't modified.
	entryCopy := *entry
	entryCopy.Data = dataCopy

	jsonBytes, err := webhookFormatter.Format(&entryCopy)
	if err != nil {
		logrus.WithError(err).Debug("Failed to marshal notification")
		return nil
	}

	resp, err := httpPost(h.url, contentType, bytes.NewReader(jsonBytes))
	if err != nil {
		logrus.WithError(err).Debug("Failed to send notification")
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		logrus.WithField("status", resp.StatusCode).Debug("Notification webhook rejected event")
	}

	// Never return an error because logrus prints hook errors directly to
	// stderr.
	return nil
}
