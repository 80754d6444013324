package conflicts

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/buger/goterm"
	"github.com/spf13/cobra"

	"github.com/sidkik/wikisync/cmd/util"
	"github.com/sidkik/wikisync/pkg/config"
	"github.com/sidkik/wikisync/pkg/conflict"
	"github.com/sidkik/wikisync/pkg/engine"
	"github.com/sidkik/wikisync/pkg/errors"
)

// New creates a new `conflicts` command.
func New() *cobra.Command {
	var showRegions bool
	cobraCmd := &cobra.Command{
		Use:   "conflicts [path]",
		Short: "List the conflicts waiting to be resolved",
		Long: `List the conflicts recorded by the last run of "wikisync sync".

If a document path is given, only conflicts for that document are listed.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			configPath, _ := cmd.Flags().GetString("config")
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			if err := run(os.Stdout, configPath, path, showRegions); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cobraCmd.Flags().BoolVarP(&showRegions, "regions", "r", false,
		"Show the lines where the local and remote versions differ")
	return cobraCmd
}

func run(out io.Writer, configPath, path string, showRegions bool) error {
	cfg, err := config.Parse(configPath)
	if err != nil {
		return errors.WithContext(err, "parse config")
	}

	cache, err := engine.ReadConflictCache(cfg.Conflicts.CacheFile)
	if err != nil {
		return errors.WithContext(err, "read conflict cache")
	}

	var conflicts []engine.CachedConflict
	for _, c := range cache.Conflicts {
		if path == "" || c.Path == path {
			conflicts = append(conflicts, c)
		}
	}

	if len(conflicts) == 0 {
		fmt.Fprintln(out, "No conflicts.")
		return nil
	}

	printConflicts(out, conflicts, showRegions)
	return nil
}

func printConflicts(out io.Writer, conflicts []engine.CachedConflict, showRegions bool) {
	w := tabwriter.NewWriter(out, 0, 10, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tTYPE\tSEVERITY\tDETECTED")
	for _, c := range conflicts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Path, c.Type,
			severityString(c.Severity), c.DetectedAt.Local().Format("2006-01-02 15:04:05"))
	}
	w.Flush()

	if !showRegions {
		return
	}
	for _, c := range conflicts {
		fmt.Fprintf(out, "\n%s (%s)\n%s\n", c.Path, c.ID, c.Message)
		for _, region := range c.Regions {
			fmt.Fprintf(out, "  lines %d-%d\n", region.StartLine, region.EndLine)
			printSide(out, "local", region.Local)
			printSide(out, "remote", region.Remote)
		}
	}
}

func printSide(out io.Writer, side, content string) {
	for _, line := range strings.Split(strings.TrimSuffix(content, "\n"), "\n") {
		fmt.Fprintf(out, "    %-6s | %s\n", side, line)
	}
}

func severityString(severity conflict.Severity) string {
	switch severity {
	case conflict.High:
		return goterm.Color(string(severity), goterm.RED)
	case conflict.Medium:
		return goterm.Color(string(severity), goterm.YELLOW)
	default:
		return string(severity)
	}
}
