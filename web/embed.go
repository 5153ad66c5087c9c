// Package web embeds the static frontend assets.
package web

import "embed"

// FS holds the embedded web directory contents.
//
//go:embed index.html placeholder.svg
var FS embed.FS

// PlaceholderName is the embedded image served when a requested image
// cannot be resolved and no fallback asset is configured.
const PlaceholderName = "placeholder.svg"
