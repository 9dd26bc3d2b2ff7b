// Package prompts holds the agent step templates, compiled in at build
// time and overridable from disk.
package prompts

import "embed"

//go:embed steps/*.md
var embeddedFS embed.FS
