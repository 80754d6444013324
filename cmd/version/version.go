package version

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	goVersion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/wikisync/cmd/util"
	"github.com/sidkik/wikisync/pkg/config"
	"github.com/sidkik/wikisync/pkg/errors"
	"github.com/sidkik/wikisync/pkg/version"
	"github.com/sidkik/wikisync/pkg/wiki"
)

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the local version of wikisync and the version of the wiki.",
		Long: "Print the local version of wikisync, and the version of the\n" +
			"Wiki.js server it syncs with, if one is configured.",
		Run: func(cmd *cobra.Command, _ []string) {
			configPath, _ := cmd.Flags().GetString("config")
			if err := run(os.Stdout, configPath); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run(out io.Writer, configPath string) error {
	fmt.Fprintf(out, "local version: %s\n", version.Version)

	cfg, err := config.Parse(configPath)
	if err != nil {
		// The local version is still useful without a config.
		log.WithError(err).Debug("Failed to parse config. Not checking the wiki version.")
		return nil
	}

	client := wiki.New(wiki.Options{
		URL:        cfg.Wiki.URL,
		Token:      cfg.Wiki.Token,
		HTTPClient: &http.Client{Timeout: cfg.Wiki.Timeout.Duration},
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Wiki.Timeout.Duration)
	defer cancel()

	wikiVersion, err := client.ServerVersion(ctx)
	if err != nil {
		return errors.WithContext(err, "get wiki version")
	}
	fmt.Fprintf(out, "wiki version:  %s\n", wikiVersion)

	return checkCompatible(wikiVersion)
}

// checkCompatible returns a friendly error if the wiki is older than the
// oldest version we support.
func checkCompatible(wikiVersion string) error {
	minimum := goVersion.Must(goVersion.NewVersion(version.MinimumWikiVersion))
	current, err := goVersion.NewVersion(strings.TrimPrefix(wikiVersion, "v"))
	if err != nil {
		log.WithError(err).WithField("version", wikiVersion).Debug(
			"Failed to parse wiki version. Assuming it's compatible.")
		return nil
	}

	if current.LessThan(minimum) {
		return errors.NewFriendlyError("The wiki is running Wiki.js %s, but "+
			"wikisync requires at least %s.", wikiVersion, version.MinimumWikiVersion)
	}
	return nil
}
