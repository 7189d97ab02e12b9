// ABOUTME: Tests for the settings form and Office OAuth handlers.
// ABOUTME: Drives the routes through the router the way a browser would.

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/almanac/internal/calendar"
	"github.com/2389/almanac/internal/config"
	"github.com/2389/almanac/internal/future"
)

func newTestSettings(t *testing.T, oauthCfg config.OfficeOAuthConfig) (*future.Registry[calendar.Config], *Settings, *Router) {
	t.Helper()
	futures := future.NewRegistry[calendar.Config]()
	s := NewSettings(futures, "http://almanac.test", oauthCfg, nil)
	router := NewRouter()
	s.Register(router)
	return futures, s, router
}

func issueToken(t *testing.T, futures *future.Registry[calendar.Config]) string {
	t.Helper()
	token, err := futures.Issue()
	require.NoError(t, err)
	return token
}

func postForm(router *Router, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSettings_UnknownTokenIs404(t *testing.T) {
	_, _, router := newTestSettings(t, config.OfficeOAuthConfig{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/settings/deadbeef", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Link not found")
}

func TestSettings_RendersForm(t *testing.T) {
	futures, _, router := newTestSettings(t, config.OfficeOAuthConfig{})
	token := issueToken(t, futures)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/settings/"+token, nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `action="/settings/`+token+`"`)
	assert.Contains(t, body, `name="caldav_url"`)
	assert.Contains(t, body, `name="office_token"`)
	// No app registration, so no sign-in button.
	assert.NotContains(t, body, "Sign in with Microsoft")
}

func TestSettings_FormShowsOAuthButtonWhenConfigured(t *testing.T) {
	futures, _, router := newTestSettings(t, config.OfficeOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		StateSecret:  "state-secret",
	})
	token := issueToken(t, futures)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/settings/"+token, nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `/oauth/office/start/`+token)
}

func TestSettings_SubmitResolvesFuture(t *testing.T) {
	futures, _, router := newTestSettings(t, config.OfficeOAuthConfig{})
	token := issueToken(t, futures)

	w := postForm(router, "/settings/"+token, url.Values{
		"provider":        {"caldav"},
		"caldav_url":      {"https://cloud.example.com/dav/"},
		"caldav_username": {"alice"},
		"caldav_password": {"hunter2"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Calendar connected")

	got, err := futures.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, calendar.Config{
		Provider: calendar.ProviderCalDAV,
		URL:      "https://cloud.example.com/dav/",
		Username: "alice",
		Password: "hunter2",
	}, got)
}

func TestSettings_DuplicateSubmitIsGone(t *testing.T) {
	futures, _, router := newTestSettings(t, config.OfficeOAuthConfig{})
	token := issueToken(t, futures)

	form := url.Values{
		"provider":   {"caldav"},
		"caldav_url": {"https://cloud.example.com/dav/"},
	}
	first := postForm(router, "/settings/"+token, form)
	require.Equal(t, http.StatusOK, first.Code)

	second := postForm(router, "/settings/"+token, form)
	assert.Equal(t, http.StatusGone, second.Code)
	assert.Contains(t, second.Body.String(), "Already submitted")
}

func TestSettings_ConsumedTokenIs404(t *testing.T) {
	futures, _, router := newTestSettings(t, config.OfficeOAuthConfig{})
	token := issueToken(t, futures)

	w := postForm(router, "/settings/"+token, url.Values{
		"provider":   {"caldav"},
		"caldav_url": {"https://cloud.example.com/dav/"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	_, err := futures.Get(context.Background(), token)
	require.NoError(t, err)

	// The value was claimed, so the link is dead for GET and POST alike.
	get := httptest.NewRecorder()
	router.ServeHTTP(get, httptest.NewRequest("GET", "/settings/"+token, nil))
	assert.Equal(t, http.StatusNotFound, get.Code)

	post := postForm(router, "/settings/"+token, url.Values{"provider": {"caldav"}})
	assert.Equal(t, http.StatusNotFound, post.Code)
}

func TestSettings_InvalidFormReRenders(t *testing.T) {
	futures, _, router := newTestSettings(t, config.OfficeOAuthConfig{})
	token := issueToken(t, futures)

	for _, tc := range []struct {
		name    string
		form    url.Values
		wantMsg string
	}{
		{
			name:    "caldav without url",
			form:    url.Values{"provider": {"caldav"}, "caldav_username": {"alice"}},
			wantMsg: "CalDAV server URL is required",
		},
		{
			name:    "office without token",
			form:    url.Values{"provider": {"office365"}},
			wantMsg: "access token is required",
		},
		{
			name:    "no provider",
			form:    url.Values{"caldav_url": {"https://cloud.example.com/dav/"}},
			wantMsg: "Choose a calendar provider",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := postForm(router, "/settings/"+token, tc.form)

			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			body := w.Body.String()
			assert.Contains(t, body, tc.wantMsg)
			// The form is still usable for a corrected retry.
			assert.Contains(t, body, `action="/settings/`+token+`"`)
		})
	}

	// Nothing resolved; the conversation is still waiting.
	assert.True(t, futures.Has(token))
}

func TestSettings_InvalidFormKeepsEnteredValues(t *testing.T) {
	futures, _, router := newTestSettings(t, config.OfficeOAuthConfig{})
	token := issueToken(t, futures)

	w := postForm(router, "/settings/"+token, url.Values{
		"provider":        {"caldav"},
		"caldav_username": {"alice"},
	})

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `value="alice"`)
}

func TestSettings_OfficeStartRedirects(t *testing.T) {
	oauthCfg := config.OfficeOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Tenant:       "contoso",
		StateSecret:  "state-secret",
	}
	futures, _, router := newTestSettings(t, oauthCfg)
	token := issueToken(t, futures)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/oauth/office/start/"+token, nil))

	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "login.microsoftonline.com", loc.Host)
	assert.Equal(t, "/contoso/oauth2/v2.0/authorize", loc.Path)

	q := loc.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "http://almanac.test/oauth/office/callback", q.Get("redirect_uri"))

	// The state must carry the settings token.
	got, err := NewStateSigner([]byte("state-secret")).Verify(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, token, got)
}

func TestSettings_OfficeStartUnknownTokenIs404(t *testing.T) {
	_, _, router := newTestSettings(t, config.OfficeOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		StateSecret:  "state-secret",
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/oauth/office/start/deadbeef", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSettings_OfficeCallbackRejectsBadState(t *testing.T) {
	_, _, router := newTestSettings(t, config.OfficeOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		StateSecret:  "state-secret",
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/oauth/office/callback?state=garbage&code=x", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Sign-in failed")
}

func TestSettings_OfficeCallbackPrefillsForm(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostFormValue("grant_type"))
		assert.Equal(t, "auth-code", r.PostFormValue("code"))
		assert.Equal(t, "client-secret", r.PostFormValue("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "graph-token-123"})
	}))
	defer tokenSrv.Close()

	futures, s, router := newTestSettings(t, config.OfficeOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		StateSecret:  "state-secret",
	})
	s.oauth.baseURL = tokenSrv.URL
	token := issueToken(t, futures)

	state, err := s.signer.Sign(token)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET",
		"/oauth/office/callback?state="+url.QueryEscape(state)+"&code=auth-code", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `value="graph-token-123"`)
	assert.Contains(t, body, `value="office365" checked`)
	// Still unresolved; the user reviews and submits the form.
	assert.True(t, futures.Has(token))
}

func TestSettings_OfficeCallbackShowsProviderError(t *testing.T) {
	futures, s, router := newTestSettings(t, config.OfficeOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		StateSecret:  "state-secret",
	})
	token := issueToken(t, futures)

	state, err := s.signer.Sign(token)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET",
		"/oauth/office/callback?state="+url.QueryEscape(state)+
			"&error=access_denied&error_description=User+declined", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Microsoft sign-in failed: User declined")
}

func TestSettings_OAuthRoutesAbsentWithoutRegistration(t *testing.T) {
	futures, _, router := newTestSettings(t, config.OfficeOAuthConfig{})
	token := issueToken(t, futures)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/oauth/office/start/"+token, nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
