package config

import (
	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/wikisync/pkg/errors"
)

type initialConfig struct {
	Version string      `json:"version"`
	Root    string      `json:"root"`
	Wiki    initialWiki `json:"wiki"`
}

type initialWiki struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"`
}

// WriteInitial writes a config containing only the required fields. Every
// other field takes its default when parsed. The token is left out when
// empty so that it can be supplied by WIKISYNC_TOKEN.
func WriteInitial(path, root, url, token string) error {
	path, err := homedirExpand(path)
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	yamlBytes, err := yaml.Marshal(initialConfig{
		Version: SupportedConfigVersion,
		Root:    root,
		Wiki:    initialWiki{URL: url, Token: token},
	})
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	// The config may hold the API token.
	if err := afero.WriteFile(fs, path, yamlBytes, 0600); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}
