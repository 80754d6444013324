package resolve

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/wikisync/cmd/util"
	"github.com/sidkik/wikisync/pkg/config"
	"github.com/sidkik/wikisync/pkg/conflict"
	"github.com/sidkik/wikisync/pkg/engine"
	"github.com/sidkik/wikisync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

var strategies = []conflict.Strategy{
	conflict.UseLocal,
	conflict.UseRemote,
	conflict.AutoMerge,
	conflict.UseCustom,
	conflict.ManualMerge,
}

// New creates a new `resolve` command.
func New() *cobra.Command {
	var strategy, contentFile string
	cobraCmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve a conflict found by a running `wikisync sync`",
		Long: `Ask the running "wikisync sync" to resolve a pending conflict.

The conflict IDs are listed by "wikisync conflicts". The use_custom and
manual_merge strategies replace the document on both sides with the contents
of --file. Both sides are backed up before they're overwritten.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Parse(configPath)
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "parse config"))
			}

			err = request(os.Stdout, cfg.Conflicts.CacheFile, cfg.ResolveRequestDir(),
				args[0], conflict.Strategy(strategy), contentFile)
			if err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cobraCmd.Flags().StringVarP(&strategy, "strategy", "s", "",
		"How to resolve the conflict: "+strategyList())
	cobraCmd.Flags().StringVarP(&contentFile, "file", "f", "",
		"The replacement content for use_custom and manual_merge")
	return cobraCmd
}

func request(out io.Writer, cacheFile, requestDir, id string, strategy conflict.Strategy,
	contentFile string) error {

	if !validStrategy(strategy) {
		return errors.NewFriendlyError("Unknown strategy %q. Use one of: %s.",
			strategy, strategyList())
	}

	cache, err := engine.ReadConflictCache(cacheFile)
	if err != nil {
		return errors.WithContext(err, "read conflict cache")
	}

	var target *engine.CachedConflict
	for i, c := range cache.Conflicts {
		if c.ID == id {
			target = &cache.Conflicts[i]
			break
		}
	}
	if target == nil {
		return errors.NewFriendlyError("There's no pending conflict with ID %q.\n"+
			"Run `wikisync conflicts` to list them.", id)
	}

	req := engine.ResolveRequest{ID: id, Strategy: strategy}
	if strategy == conflict.UseCustom || strategy == conflict.ManualMerge {
		if contentFile == "" {
			return errors.NewFriendlyError("The %s strategy needs the replacement "+
				"content. Pass it with --file.", strategy)
		}

		content, err := afero.ReadFile(fs, contentFile)
		if err != nil {
			return errors.WithContext(err, "read content")
		}
		req.Content = string(content)

		if strategy == conflict.ManualMerge && conflict.HasConflictMarkers(req.Content) {
			return errors.NewFriendlyError("%s still has conflict markers. "+
				"Remove them before resolving.", contentFile)
		}
	}

	if err := engine.WriteResolveRequest(requestDir, req); err != nil {
		return err
	}

	fmt.Fprintf(out, "Requested %s for %s. It's applied by the running `wikisync sync` "+
		"before its next batch.\n", strategy, target.Path)
	return nil
}

func validStrategy(strategy conflict.Strategy) bool {
	for _, s := range strategies {
		if s == strategy {
			return true
		}
	}
	return false
}

func strategyList() string {
	var names []string
	for _, s := range strategies {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}
