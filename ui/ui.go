// Package ui holds the web templates served by cmd/server.
package ui

import "embed"

//go:embed templates/*.html
var Templates embed.FS
