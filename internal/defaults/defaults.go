// Package defaults provides embedded copies of the example configuration
// and persona files for the piggy init subcommand.
package defaults

import _ "embed"

//go:generate sh -c "cp ../../examples/config.example.yaml . && cp ../../examples/persona.example.md ."

//go:embed config.example.yaml
var ConfigYAML []byte

//go:embed persona.example.md
var PersonaMD []byte
