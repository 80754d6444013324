package backups

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/sidkik/wikisync/cmd/util"
	"github.com/sidkik/wikisync/pkg/backup"
	"github.com/sidkik/wikisync/pkg/config"
	"github.com/sidkik/wikisync/pkg/errors"
)

// New creates a new `backups` command.
func New() *cobra.Command {
	cobraCmd := &cobra.Command{
		Use:   "backups",
		Short: "Inspect the copies saved before documents were overwritten",
	}
	cobraCmd.AddCommand(
		&cobra.Command{
			Use:   "list [path]",
			Short: "List backups, optionally only those of one document",
			Args:  cobra.MaximumNArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				var path string
				if len(args) == 1 {
					path = args[0]
				}
				if err := withStore(cmd, func(store *backup.Store) error {
					return list(os.Stdout, store, path)
				}); err != nil {
					util.HandleFatalError(err)
				}
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print the content saved by a backup",
			Args:  cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				if err := withStore(cmd, func(store *backup.Store) error {
					content, err := store.Read(args[0])
					if err != nil {
						return err
					}
					fmt.Print(content)
					return nil
				}); err != nil {
					util.HandleFatalError(err)
				}
			},
		},
	)
	return cobraCmd
}

func withStore(cmd *cobra.Command, fn func(*backup.Store) error) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Parse(configPath)
	if err != nil {
		return errors.WithContext(err, "parse config")
	}
	return fn(backup.New(filepath.Join(cfg.Root, config.StateDir), clockwork.NewRealClock()))
}

func list(out io.Writer, store *backup.Store, path string) error {
	backups, err := store.List(path)
	if err != nil {
		return errors.WithContext(err, "list backups")
	}

	if len(backups) == 0 {
		fmt.Fprintln(out, "No backups.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 10, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tSIDE\tCREATED")
	for _, meta := range backups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", meta.ID, meta.Path, meta.Side,
			meta.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
