// ABOUTME: Embeds the chat page template into the binary.
// ABOUTME: Provides templateFS for rendering at runtime.

package webchat

import "embed"

//go:embed templates/*.html
var templateFS embed.FS
