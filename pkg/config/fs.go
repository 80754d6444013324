package config

import (
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
)

// fs is used for mock tests. It will be overridden by afero.NewMemMapFs()
// in the tests.
var fs = afero.NewOsFs()

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// getenv will be overridden in mock tests
var getenv = os.Getenv
