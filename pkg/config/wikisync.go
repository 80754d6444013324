package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/wikisync/pkg/conflict"
	"github.com/sidkik/wikisync/pkg/errors"
	"github.com/sidkik/wikisync/pkg/sync"
)

const (
	// DefaultPath is where the config is looked for when no path is given.
	DefaultPath = "wikisync.yaml"

	// UserConfigPath is the fallback config location.
	UserConfigPath = "~/.wikisync.yaml"

	// InitialConfigVersion is the first version of the wikisync config.
	// Config files that do not specify a version will default to this
	// version.
	InitialConfigVersion = "v1alpha1"

	// SupportedConfigVersion is the config version understood by this
	// binary.
	SupportedConfigVersion = "v1alpha1"

	// TokenEnvKey overrides the API token in the config file.
	TokenEnvKey = "WIKISYNC_TOKEN"

	// StateDir is the directory under the sync root that holds the state
	// file, backups, and merge bases. It's never synced.
	StateDir = ".wikisync"
)

// Config is the contents of wikisync.yaml.
type Config struct {
	Version   string    `json:"version,omitempty"`
	Root      string    `json:"root"` // Required.
	Wiki      Wiki      `json:"wiki"`
	Sync      Sync      `json:"sync"`
	Watch     Watch     `json:"watch"`
	Conflicts Conflicts `json:"conflicts"`
	Notify    Notify    `json:"notify"`

	// Only populated and consumed by wikisync. Never set by user.
	path string
}

// Wiki configures the connection to the Wiki.js server.
type Wiki struct {
	URL          string   `json:"url"`   // Required.
	Token        string   `json:"token"` // Required, unless set by WIKISYNC_TOKEN.
	Locale       string   `json:"locale,omitempty"`
	PollInterval Duration `json:"pollInterval,omitempty"`
	Concurrency  int      `json:"concurrency,omitempty"`
	Timeout      Duration `json:"timeout,omitempty"`
}

// Sync configures the batch loop.
type Sync struct {
	Interval          Duration `json:"interval,omitempty"`
	BatchSize         int      `json:"batchSize,omitempty"`
	Concurrency       int      `json:"concurrency,omitempty"`
	DeleteGraceCycles int      `json:"deleteGraceCycles,omitempty"`
	StateFile         string   `json:"stateFile,omitempty"`
}

// Watch configures the local file watcher.
type Watch struct {
	Debounce           Duration `json:"debounce,omitempty"`
	Ignore             []string `json:"ignore,omitempty"`
	LargeFileThreshold int64    `json:"largeFileThreshold,omitempty"`
}

// Conflicts configures conflict handling.
type Conflicts struct {
	AutoResolve     []string `json:"autoResolve,omitempty"`
	CacheFile       string   `json:"cacheFile,omitempty"`
	BackupRetention Duration `json:"backupRetention,omitempty"`
}

// Notify configures where conflicts and errors are reported.
type Notify struct {
	Webhook     string `json:"webhook,omitempty"`
	ForwardLogs bool   `json:"forwardLogs,omitempty"`
}

// Duration is a time.Duration written as a string, such as "1s".
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("durations must be strings, such as \"1s\"")
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

var alwaysIgnored = []string{StateDir, ".git", ".DS_Store", "**/*.swp", "**/*~"}

var autoResolvable = map[conflict.Type]bool{
	conflict.LocalNewer:  true,
	conflict.RemoteNewer: true,
	conflict.Content:     true,
}

// GetPath returns the filepath that the config was parsed from.
func (c Config) GetPath() string {
	return c.path
}

// ResolveRequestDir is where `wikisync resolve` leaves requests for the
// running engine.
func (c Config) ResolveRequestDir() string {
	return filepath.Join(c.Root, StateDir, "resolve")
}

// AutoResolveTypes returns the conflict types that are resolved without
// user input.
func (c Config) AutoResolveTypes() map[conflict.Type]bool {
	types := map[conflict.Type]bool{}
	for _, typ := range c.Conflicts.AutoResolve {
		types[conflict.Type(typ)] = true
	}
	return types
}

// Parse parses the config at `path`. If `path` is empty, wikisync.yaml in
// the current directory is used, falling back to ~/.wikisync.yaml.
func Parse(path string) (Config, error) {
	if path == "" {
		var err error
		path, err = findConfig()
		if err != nil {
			return Config{}, err
		}
	}

	path, err := homedirExpand(path)
	if err != nil {
		return Config{}, errors.WithContext(err, "expand config path")
	}

	config := Config{
		path:    path,
		Version: InitialConfigVersion,
	}
	if err := config.decode(path); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Config{}, errors.NewFriendlyError("The wikisync config "+
				"file doesn't exist at %q.", path)
		}
		return Config{}, errors.WithContext(err, "parse")
	}

	if token := getenv(TokenEnvKey); token != "" {
		config.Wiki.Token = token
	}

	if err := config.validate(); err != nil {
		return Config{}, err
	}

	config.Root, err = homedirExpand(config.Root)
	if err != nil {
		return Config{}, errors.WithContext(err, "expand root path")
	}

	// Evaluate relative paths relative to the config path.
	if !filepath.IsAbs(config.Root) {
		config.Root = filepath.Join(filepath.Dir(path), config.Root)
	}
	config.Root = filepath.Clean(config.Root)

	config.setDefaults()
	return config, nil
}

// decodeErrTemplate is shown when the config isn't valid YAML, or one of its
// fields has the wrong type or name. The YAML library's errors don't point
// at a line, so the best we can do is pass them on.
const decodeErrTemplate = "Failed to parse the wikisync config at %q.\n" +
	"Check that each field is spelled correctly and has the right type.\n\n" +
	"The parser reported:\n" +
	"%s"

type versionError struct {
	path, version string
}

func (err versionError) Error() string {
	return err.FriendlyMessage()
}

func (err versionError) FriendlyMessage() string {
	return fmt.Sprintf("The wikisync config at %q has version %q, but this "+
		"version of wikisync reads %q configs.", err.path, err.version, SupportedConfigVersion)
}

// decode reads the config at `path` into c. The version is checked after a
// lenient decode, so that a config for another release is reported as such
// rather than as a list of unknown fields.
func (c *Config) decode(path string) error {
	data, err := afero.ReadFile(fs, path)
	switch {
	case os.IsNotExist(err):
		return errors.FileNotFound{Path: path}
	case err != nil:
		return errors.WithContext(err, "read file")
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.NewFriendlyError(decodeErrTemplate, path, err)
	}

	if c.Version != SupportedConfigVersion {
		return versionError{path: path, version: c.Version}
	}

	if err := yaml.UnmarshalStrict(data, c, yaml.DisallowUnknownFields); err != nil {
		return errors.NewFriendlyError(decodeErrTemplate, path, err)
	}
	return nil
}

func findConfig() (string, error) {
	if _, err := fs.Stat(DefaultPath); err == nil {
		return DefaultPath, nil
	}

	path, err := homedirExpand(UserConfigPath)
	if err != nil {
		return "", errors.WithContext(err, "expand config path")
	}
	if _, err := fs.Stat(path); err == nil {
		return path, nil
	}
	return "", errors.NewFriendlyError("No wikisync config was found. "+
		"Create %q in the current directory, or %q.", DefaultPath, UserConfigPath)
}

func (c Config) validate() error {
	switch {
	case c.Root == "":
		return errors.MissingFieldError{Field: "root"}
	case c.Wiki.URL == "":
		return errors.MissingFieldError{Field: "wiki.url"}
	case c.Wiki.Token == "":
		return errors.MissingFieldError{Field: "wiki.token"}
	}

	for _, typ := range c.Conflicts.AutoResolve {
		if !autoResolvable[conflict.Type(typ)] {
			return errors.NewFriendlyError("%q conflicts can't be resolved "+
				"automatically. Remove it from conflicts.autoResolve in %q.", typ, c.path)
		}
	}
	return nil
}

func (c *Config) setDefaults() {
	stateDir := filepath.Join(c.Root, StateDir)

	setDuration(&c.Wiki.PollInterval, 60*time.Second)
	setDuration(&c.Wiki.Timeout, 30*time.Second)
	setInt(&c.Wiki.Concurrency, 4)
	if c.Wiki.Locale == "" {
		c.Wiki.Locale = "en"
	}

	setDuration(&c.Sync.Interval, time.Second)
	setInt(&c.Sync.BatchSize, 10)
	setInt(&c.Sync.Concurrency, 3)
	setInt(&c.Sync.DeleteGraceCycles, 1)
	if c.Sync.StateFile == "" {
		c.Sync.StateFile = filepath.Join(stateDir, "state.json")
	}

	setDuration(&c.Watch.Debounce, time.Second)
	if c.Watch.LargeFileThreshold == 0 {
		c.Watch.LargeFileThreshold = sync.DefaultLargeFileThreshold
	}
	c.Watch.Ignore = append(c.Watch.Ignore, alwaysIgnored...)

	if c.Conflicts.AutoResolve == nil {
		c.Conflicts.AutoResolve = []string{
			string(conflict.LocalNewer),
			string(conflict.RemoteNewer),
			string(conflict.Content),
		}
	}
	if c.Conflicts.CacheFile == "" {
		c.Conflicts.CacheFile = filepath.Join(stateDir, "conflicts.json")
	}
	setDuration(&c.Conflicts.BackupRetention, 30*24*time.Hour)
}

func setDuration(d *Duration, def time.Duration) {
	if d.Duration == 0 {
		d.Duration = def
	}
}

func setInt(i *int, def int) {
	if *i == 0 {
		*i = def
	}
}
