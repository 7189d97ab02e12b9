// ABOUTME: Microsoft identity platform OAuth client for Office 365 calendars.
// ABOUTME: Builds authorize URLs and exchanges authorization codes for tokens.

package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/almanac/internal/config"
)

const (
	loginBaseURL = "https://login.microsoftonline.com"

	// officeScopes covers reading the calendar plus a refresh token.
	officeScopes = "offline_access Calendars.Read"
)

// OfficeOAuth drives the authorization-code flow against the Microsoft
// identity platform so users can connect an Office 365 calendar without
// pasting a Graph token by hand.
type OfficeOAuth struct {
	clientID     string
	clientSecret string
	tenant       string
	baseURL      string
	client       *http.Client
}

// NewOfficeOAuth creates an OAuth client from the app registration config.
func NewOfficeOAuth(cfg config.OfficeOAuthConfig) *OfficeOAuth {
	tenant := cfg.Tenant
	if tenant == "" {
		tenant = "common"
	}
	return &OfficeOAuth{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tenant:       tenant,
		baseURL:      loginBaseURL,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

// AuthorizeURL builds the URL the browser is redirected to for sign-in.
func (o *OfficeOAuth) AuthorizeURL(state, redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", o.clientID)
	q.Set("response_type", "code")
	q.Set("response_mode", "query")
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", officeScopes)
	q.Set("state", state)
	return fmt.Sprintf("%s/%s/oauth2/v2.0/authorize?%s", o.baseURL, o.tenant, q.Encode())
}

// Exchange trades an authorization code for an access token.
func (o *OfficeOAuth) Exchange(ctx context.Context, code, redirectURI string) (string, error) {
	form := url.Values{}
	form.Set("client_id", o.clientID)
	form.Set("client_secret", o.clientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", o.baseURL, o.tenant)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling token endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	return payload.AccessToken, nil
}
