package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/wikisync/cmd/backups"
	configCmd "github.com/sidkik/wikisync/cmd/config"
	"github.com/sidkik/wikisync/cmd/conflicts"
	"github.com/sidkik/wikisync/cmd/resolve"
	syncCmd "github.com/sidkik/wikisync/cmd/sync"
	"github.com/sidkik/wikisync/cmd/util"
	"github.com/sidkik/wikisync/cmd/version"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "WIKISYNC_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:   "wikisync",
		Short: "Keep a directory of markdown files in sync with a Wiki.js instance",

		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "",
		"Path to the wikisync config. Defaults to ./wikisync.yaml, then ~/.wikisync.yaml.")
	rootCmd.AddCommand(
		backups.New(),
		configCmd.New(),
		conflicts.New(),
		resolve.New(),
		syncCmd.New(),
		version.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
