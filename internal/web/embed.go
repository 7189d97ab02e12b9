// ABOUTME: Embeds the settings-page HTML templates into the binary.
// ABOUTME: Provides templateFS for rendering at runtime.

package web

import "embed"

//go:embed templates/*.html
var templateFS embed.FS
