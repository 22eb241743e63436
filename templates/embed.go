// Package templates embeds the default workspace configuration.
package templates

import "embed"

//go:embed config.yaml
var FS embed.FS
