package sync

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/wikisync/cmd/util"
	"github.com/sidkik/wikisync/pkg/backup"
	"github.com/sidkik/wikisync/pkg/config"
	"github.com/sidkik/wikisync/pkg/engine"
	"github.com/sidkik/wikisync/pkg/errors"
	"github.com/sidkik/wikisync/pkg/fswatch"
	"github.com/sidkik/wikisync/pkg/notify"
	"github.com/sidkik/wikisync/pkg/sync"
	"github.com/sidkik/wikisync/pkg/transport"
	"github.com/sidkik/wikisync/pkg/wiki"
	"github.com/sidkik/wikisync/pkg/wikiwatch"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// New creates a new `sync` command.
func New() *cobra.Command {
	var quiet bool
	cobraCmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the local directory with the wiki until interrupted",
		Long: `Watch the local directory and the wiki, and copy changes in both directions.

Changes that can't be applied safely are recorded as conflicts. Run
"wikisync conflicts" to list them.`,
		Run: func(cmd *cobra.Command, _ []string) {
			configPath, _ := cmd.Flags().GetString("config")
			if err := run(configPath, quiet); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cobraCmd.Flags().BoolVarP(&quiet, "quiet", "q", false,
		"Don't print a status line for every synced document")
	return cobraCmd
}

func run(configPath string, quiet bool) error {
	cfg, err := config.Parse(configPath)
	if err != nil {
		return errors.WithContext(err, "parse config")
	}

	if err := checkRoot(cfg); err != nil {
		return err
	}

	eng := newEngine(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !quiet {
		go printEvents(ctx, eng.Subscribe(64))
	}

	if err := eng.Start(ctx); err != nil {
		if errors.Is(err, errors.ErrAuthentication) {
			return errors.NewFriendlyError("The wiki at %s rejected the API token.\n"+
				"Check the token in %s, or set %s.",
				cfg.Wiki.URL, cfg.GetPath(), config.TokenEnvKey)
		}
		return errors.WithContext(err, "start")
	}
	log.WithFields(log.Fields{
		"root": cfg.Root,
		"wiki": cfg.Wiki.URL,
	}).Info("Syncing. Hit Ctrl-C to stop.")

	<-ctx.Done()
	return eng.Stop()
}

func checkRoot(cfg config.Config) error {
	fi, err := fs.Stat(cfg.Root)
	switch {
	case os.IsNotExist(err):
		return errors.NewFriendlyError("The sync root %q doesn't exist.\n"+
			"Is the root in %q correct?", cfg.Root, cfg.GetPath())
	case err != nil:
		return errors.WithContext(err, "stat root")
	case !fi.IsDir():
		return errors.NewFriendlyError("The sync root %q isn't a directory.", cfg.Root)
	}
	return nil
}

// newEngine wires the sync engine's collaborators from the config.
func newEngine(cfg config.Config) *engine.Engine {
	clock := clockwork.NewRealClock()
	client := wiki.New(wiki.Options{
		URL:         cfg.Wiki.URL,
		Token:       cfg.Wiki.Token,
		Locale:      cfg.Wiki.Locale,
		Concurrency: cfg.Wiki.Concurrency,
		HTTPClient:  &http.Client{Timeout: cfg.Wiki.Timeout.Duration},
	})

	store := backup.New(filepath.Join(cfg.Root, config.StateDir), clock)
	if pruned, err := store.Prune(cfg.Conflicts.BackupRetention.Duration); err != nil {
		log.WithError(err).Warn("Failed to prune old backups")
	} else if pruned > 0 {
		log.WithField("pruned", pruned).Info("Pruned old backups")
	}

	return engine.New(engine.Options{
		Local: fswatch.New(cfg.Root, fswatch.Options{
			Ignore:             cfg.Watch.Ignore,
			Debounce:           cfg.Watch.Debounce.Duration,
			LargeFileThreshold: cfg.Watch.LargeFileThreshold,
			Clock:              clock,
		}),
		Remote: wikiwatch.New(client, wikiwatch.Options{
			DeleteGraceCycles: cfg.Sync.DeleteGraceCycles,
			Clock:             clock,
		}),
		Transport: transport.New(client, transport.Options{
			Root:               cfg.Root,
			Locale:             cfg.Wiki.Locale,
			LargeFileThreshold: cfg.Watch.LargeFileThreshold,
		}),
		Backup:          store,
		Bases:           store,
		Notifier:        newNotifier(cfg.Notify),
		Persister:       sync.NewFilePersister(cfg.Sync.StateFile),
		Interval:        cfg.Sync.Interval.Duration,
		PollInterval:    cfg.Wiki.PollInterval.Duration,
		BatchSize:       cfg.Sync.BatchSize,
		Concurrency:     cfg.Sync.Concurrency,
		AutoResolve:     cfg.AutoResolveTypes(),
		ConflictCache:   cfg.Conflicts.CacheFile,
		ResolveRequests: cfg.ResolveRequestDir(),
		Clock:           clock,
	})
}

// newNotifier always logs, and also posts to the webhook if one is
// configured.
func newNotifier(cfg config.Notify) sync.Notifier {
	if cfg.Webhook == "" {
		return notify.LogNotifier{}
	}

	if cfg.ForwardLogs {
		log.AddHook(notify.NewLogHook(cfg.Webhook))
	}
	return notify.Multi{notify.LogNotifier{}, notify.NewWebhookNotifier(cfg.Webhook)}
}
