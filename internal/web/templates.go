// ABOUTME: Template rendering for the settings web surface.
// ABOUTME: Loads pages from the embedded filesystem and renders them.

package web

import (
	"html/template"
	"log/slog"
	"net/http"
)

// settingsData fills the settings form. Provider preselects a radio button;
// the CalDAV and Office fields pre-fill their inputs (the password never
// round-trips). OfficeOAuth toggles the "Sign in with Microsoft" button.
type settingsData struct {
	Title          string
	Token          string
	Error          string
	Provider       string
	CalDAVURL      string
	CalDAVUsername string
	OfficeToken    string
	OfficeOAuth    bool
}

type doneData struct {
	Title string
}

type errorData struct {
	Title   string
	Heading string
	Message string
}

// renderPage executes base.html with the named page providing the content
// block. Pages are parsed per render; the set is small and requests rare.
func renderPage(w http.ResponseWriter, logger *slog.Logger, page string, status int, data any) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/"+page))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, data); err != nil {
		logger.Error("failed to render page", "page", page, "error", err)
	}
}
