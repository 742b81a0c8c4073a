package fixtures

import (
	_ "embed"
)

// ConfigTemplate is a commented configuration file holding the defaults.
//
//go:embed config/config.yaml.template
var ConfigTemplate []byte
