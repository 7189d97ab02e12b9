// ABOUTME: Settings form handlers that resolve calendar-setup futures.
// ABOUTME: Serves the one-time settings links the assistant hands to users.

package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/almanac/internal/calendar"
	"github.com/2389/almanac/internal/config"
	"github.com/2389/almanac/internal/future"
)

// Settings serves the token-addressed settings pages. Each page belongs to a
// pending conversation suspended on the matching future; submitting the form
// resolves that future with the calendar configuration the user entered.
type Settings struct {
	futures *future.Registry[calendar.Config]
	baseURL string
	oauth   *OfficeOAuth
	signer  *StateSigner
	logger  *slog.Logger
}

// NewSettings creates the settings handler set. baseURL is the externally
// reachable server root, used to build the OAuth redirect URI. The Office
// sign-in button only appears when an app registration is configured;
// without one the form still accepts a pasted Graph token.
func NewSettings(futures *future.Registry[calendar.Config], baseURL string, oauthCfg config.OfficeOAuthConfig, logger *slog.Logger) *Settings {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Settings{
		futures: futures,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With("component", "settings"),
	}
	if oauthCfg.Configured() {
		s.oauth = NewOfficeOAuth(oauthCfg)
		s.signer = NewStateSigner([]byte(oauthCfg.StateSecret))
	}
	return s
}

// Register mounts the settings routes. The OAuth routes are only registered
// when an Office app registration is configured.
func (s *Settings) Register(r *Router) {
	r.Handle(http.MethodGet, "/settings/:token", s.handleForm)
	r.Handle(http.MethodPost, "/settings/:token", s.handleSubmit)
	if s.oauth != nil {
		r.Handle(http.MethodGet, "/oauth/office/start/:token", s.handleOfficeStart)
		r.Handle(http.MethodGet, "/oauth/office/callback", s.handleOfficeCallback)
	}
}

func (s *Settings) handleForm(w http.ResponseWriter, r *http.Request, params map[string]string) {
	token := params["token"]
	if !s.futures.Has(token) {
		s.renderLinkGone(w)
		return
	}
	s.renderForm(w, http.StatusOK, token, calendar.Config{}, "")
}

func (s *Settings) handleSubmit(w http.ResponseWriter, r *http.Request, params map[string]string) {
	token := params["token"]
	if !s.futures.Has(token) {
		s.renderLinkGone(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.renderForm(w, http.StatusBadRequest, token, calendar.Config{}, "That submission could not be read. Please try again.")
		return
	}
	cfg := calendar.Config{
		Provider: r.PostFormValue("provider"),
		URL:      strings.TrimSpace(r.PostFormValue("caldav_url")),
		Username: strings.TrimSpace(r.PostFormValue("caldav_username")),
		Password: r.PostFormValue("caldav_password"),
		Token:    strings.TrimSpace(r.PostFormValue("office_token")),
	}
	if msg := validateForm(cfg); msg != "" {
		s.renderForm(w, http.StatusUnprocessableEntity, token, cfg, msg)
		return
	}

	if err := s.futures.Put(token, cfg); err != nil {
		switch {
		case errors.Is(err, future.ErrConsumed):
			s.renderAlreadySubmitted(w)
		case errors.Is(err, future.ErrUnknownToken):
			s.renderLinkGone(w)
		default:
			s.logger.Error("failed to resolve settings future", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	s.logger.Info("settings submitted", "provider", cfg.Provider)
	renderPage(w, s.logger, "done.html", http.StatusOK, doneData{Title: "Calendar connected"})
}

func (s *Settings) handleOfficeStart(w http.ResponseWriter, r *http.Request, params map[string]string) {
	token := params["token"]
	if !s.futures.Has(token) {
		s.renderLinkGone(w)
		return
	}

	state, err := s.signer.Sign(token)
	if err != nil {
		s.logger.Error("failed to sign oauth state", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, s.oauth.AuthorizeURL(state, s.redirectURI()), http.StatusFound)
}

func (s *Settings) handleOfficeCallback(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	token, err := s.signer.Verify(r.URL.Query().Get("state"))
	if err != nil {
		s.logger.Warn("rejected oauth callback", "error", err)
		renderPage(w, s.logger, "error.html", http.StatusBadRequest, errorData{
			Title:   "Sign-in failed",
			Heading: "Sign-in failed",
			Message: "The sign-in response could not be verified. Go back to your settings link and try again.",
		})
		return
	}
	if !s.futures.Has(token) {
		s.renderLinkGone(w)
		return
	}

	q := r.URL.Query()
	office := calendar.Config{Provider: calendar.ProviderOffice365}
	if msg := q.Get("error"); msg != "" {
		if desc := q.Get("error_description"); desc != "" {
			msg = desc
		}
		s.renderForm(w, http.StatusOK, token, office, "Microsoft sign-in failed: "+msg)
		return
	}

	accessToken, err := s.oauth.Exchange(r.Context(), q.Get("code"), s.redirectURI())
	if err != nil {
		s.logger.Error("oauth code exchange failed", "error", err)
		s.renderForm(w, http.StatusOK, token, office, "Signing in worked but fetching a token did not. Please try again.")
		return
	}

	office.Token = accessToken
	s.renderForm(w, http.StatusOK, token, office, "")
}

func (s *Settings) redirectURI() string {
	return s.baseURL + "/oauth/office/callback"
}

func (s *Settings) renderForm(w http.ResponseWriter, status int, token string, cfg calendar.Config, errMsg string) {
	provider := cfg.Provider
	if provider == "" {
		provider = calendar.ProviderCalDAV
	}
	renderPage(w, s.logger, "settings.html", status, settingsData{
		Title:          "Connect your calendar",
		Token:          token,
		Error:          errMsg,
		Provider:       provider,
		CalDAVURL:      cfg.URL,
		CalDAVUsername: cfg.Username,
		OfficeToken:    cfg.Token,
		OfficeOAuth:    s.oauth != nil,
	})
}

func (s *Settings) renderLinkGone(w http.ResponseWriter) {
	renderPage(w, s.logger, "error.html", http.StatusNotFound, errorData{
		Title:   "Link not found",
		Heading: "Link not found",
		Message: "This settings link is invalid or has already been used. Ask the assistant for a fresh one.",
	})
}

func (s *Settings) renderAlreadySubmitted(w http.ResponseWriter) {
	renderPage(w, s.logger, "error.html", http.StatusGone, errorData{
		Title:   "Already submitted",
		Heading: "Already submitted",
		Message: "Settings for this link were already saved. Ask the assistant for a fresh link to change them.",
	})
}

// validateForm checks the provider-specific required fields, returning an
// empty string when the submission is usable.
func validateForm(cfg calendar.Config) string {
	switch cfg.Provider {
	case calendar.ProviderCalDAV:
		if cfg.URL == "" {
			return "The CalDAV server URL is required."
		}
	case calendar.ProviderOffice365:
		if cfg.Token == "" {
			return "An access token is required. Paste one or sign in with Microsoft."
		}
	default:
		return "Choose a calendar provider."
	}
	return ""
}
