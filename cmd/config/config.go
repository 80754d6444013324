package config

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/wikisync/cmd/util"
	"github.com/sidkik/wikisync/pkg/config"
	"github.com/sidkik/wikisync/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout              io.Writer = os.Stdout
	stdin               io.Reader = os.Stdin
	parseConfig                   = config.Parse
	writeConfig                   = config.WriteInitial
	getWorkingDirectory           = os.Getwd
	getenv                        = os.Getenv
)

type answers struct {
	root, url, token string
}

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts answers
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write a wikisync config",
		Long: `Write a config with the sync root and wiki connection.

The config is written to the path given by --config, or wikisync.yaml in the
current directory.`,
		Run: func(cmd *cobra.Command, _ []string) {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = config.DefaultPath
			}

			if err := setupConfig(path, cliOpts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&cliOpts.root, "root", "",
		"Set the directory to sync. "+
			"Optional: If not set, `wikisync config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.url, "url", "",
		"Set the URL of the wiki. "+
			"Optional: If not set, `wikisync config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.token, "token", "",
		"Set the wiki API token. "+
			"Optional: If not set, `wikisync config` will interactively prompt, "+
			"unless "+config.TokenEnvKey+" is set.")

	// Setup the commands for querying the contents of the config.
	type getterSpec struct {
		use, short string
		fn         func(config.Config) string
	}

	getters := []getterSpec{
		{
			use:   "get-root",
			short: "Get the directory that's synced",
			fn:    func(cfg config.Config) string { return cfg.Root },
		},
		{
			use:   "get-url",
			short: "Get the URL of the wiki",
			fn:    func(cfg config.Config) string { return cfg.Wiki.URL },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(cmd *cobra.Command, _ []string) {
				path, _ := cmd.Flags().GetString("config")
				cfg, err := parseConfig(path)
				if err != nil {
					err = errors.WithContext(err, "read config")
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(cfg))
			},
		})
	}

	return cmd
}

func setupConfig(path string, cliOpts answers) error {
	cfg, err := generateConfig(path, cliOpts)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	if err := writeConfig(path, cfg.root, cfg.url, cfg.token); err != nil {
		return errors.WithContext(err, "write config")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

func urlValidationFn(raw string) (string, bool) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" ||
		(parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "The wiki URL must be an http or https URL, " +
			"such as https://wiki.example.com.", false
	}
	return "", true
}

func nonEmptyValidationFn(resp string) (string, bool) {
	if resp == "" {
		return "A value is required.", false
	}
	return "", true
}

type prompt struct {
	helpString, prompt, defaultAnswer, currAnswer string
	field                                         *string
	validationFn                                  func(string) (string, bool)
}

// generateConfig interacts with the user to decide what the user's desired
// configuration is. Answers from the existing config at `path` are offered
// as choices.
func generateConfig(path string, cliOpts answers) (answers, error) {
	currConfig, err := parseConfig(path)
	if err != nil {
		currConfig = config.Config{}
		log.WithError(err).Debug("Failed to read current config")
	}

	var defaultRoot string
	if wd, err := getWorkingDirectory(); err == nil {
		defaultRoot = wd
	} else {
		log.WithError(err).Info("Failed to guess root")
	}

	cfg := cliOpts
	var prompts []prompt
	if cliOpts.root == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the directory of markdown files to sync.\n" +
				"It defaults to the current directory.",
			prompt:        "Sync root",
			defaultAnswer: defaultRoot,
			currAnswer:    currConfig.Root,
			field:         &cfg.root,
			validationFn:  nonEmptyValidationFn,
		})
	}

	if cliOpts.url == "" {
		prompts = append(prompts, prompt{
			helpString:   "Enter the URL of the Wiki.js server.",
			prompt:       "Wiki URL",
			currAnswer:   currConfig.Wiki.URL,
			field:        &cfg.url,
			validationFn: urlValidationFn,
		})
	}

	// Tokens are never echoed back as choices.
	switch {
	case cliOpts.token != "":
	case getenv(config.TokenEnvKey) != "":
		log.Infof("Using the API token from %s", config.TokenEnvKey)
	case currConfig.Wiki.Token != "":
		cfg.token = currConfig.Wiki.Token
	default:
		prompts = append(prompts, prompt{
			helpString: "Enter an API token for the wiki, created under Administration > API Access.\n" +
				"To keep the token out of the config, set " + config.TokenEnvKey + " instead.",
			prompt:       "API token",
			field:        &cfg.token,
			validationFn: nonEmptyValidationFn,
		})
	}

	stdinReader := bufio.NewReader(stdin)
	for _, prompt := range prompts {
		var resp string
		for {
			resp, err = promptUser(stdinReader, prompt.helpString, prompt.prompt,
				prompt.defaultAnswer, prompt.currAnswer)
			if err != nil {
				return answers{}, errors.WithContext(err, "read response")
			}

			if prompt.validationFn == nil {
				break
			}

			validationErr, ok := prompt.validationFn(resp)
			if ok {
				break
			}

			fmt.Fprintln(stdout, validationErr)
		}

		*prompt.field = resp
	}

	return cfg, nil
}

func promptUser(stdinReader *bufio.Reader, helpString, prompt, defaultAnswer,
	currAnswer string) (string, error) {
	// Display a new line at the end to separate different fields to make it
	// look clearer.
	defer fmt.Fprintln(stdout)

	options := []string{}
	if defaultAnswer != "" {
		options = append(options, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		options = append(options, currAnswer)
	}
	options = append(options, "(Enter manually)")

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	if nOptions := len(options); nOptions > 1 {
		// defaultAnswer or currAnswer exists.
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option = fmt.Sprintf("%s (recommended)", option)
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintln(stdout)

		for {
			fmt.Fprintf(stdout, "Please choose one [1-%d]: ", nOptions)
			choiceStr, err := stdinReader.ReadString('\n')
			if err != nil {
				return "", err
			}

			var choice int
			choiceStr = strings.TrimSpace(choiceStr)

			// Default to the first choice if user doesn't enter anything.
			if choiceStr == "" {
				choice = 1
			} else {
				choice, err = strconv.Atoi(choiceStr)
				if err != nil || choice < 1 || choice > nOptions {
					// Try again if the input is invalid.
					continue
				}
			}

			if choice == nOptions {
				// Enter manually.
				break
			}

			return options[choice-1], nil
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	resp, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(resp), nil
}
