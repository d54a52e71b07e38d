// Package appfs embeds the files the binaries need at runtime: SQL migrations, email templates and the common passwords list.
package appfs

import "embed"

//go:embed migrations passwords templates
var FS embed.FS
