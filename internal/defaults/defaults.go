// Package defaults provides the embedded example configuration written
// by the init subcommand.
package defaults

import _ "embed"

// ConfigYAML is the annotated example config.yaml.
//
//go:embed config.example.yaml
var ConfigYAML []byte
