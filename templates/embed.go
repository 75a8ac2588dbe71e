// Package templates embeds the files `lanekeeper init` scaffolds from.
package templates

import "embed"

//go:embed config.yaml BACKLOG.md STATUS.md
var FS embed.FS
