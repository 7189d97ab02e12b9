// ABOUTME: Microsoft 365 accessor over the Graph calendarView endpoint.
// ABOUTME: List-only; scheduling is not offered for this provider.

package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

type office365 struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

func newOffice365(cfg Config, logger *slog.Logger) *office365 {
	if logger == nil {
		logger = slog.Default()
	}
	base := graphBaseURL
	if cfg.URL != "" {
		base = strings.TrimSuffix(cfg.URL, "/")
	}
	return &office365{
		baseURL: base,
		token:   cfg.Token,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("component", "office365"),
	}
}

// graphEvent mirrors the slice of a Graph event this accessor reads.
type graphEvent struct {
	Subject string `json:"subject"`
	Start   struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"start"`
}

func (o *office365) Events(ctx context.Context, from, to time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("startDateTime", from.UTC().Format(time.RFC3339))
	q.Set("endDateTime", to.UTC().Format(time.RFC3339))
	q.Set("$select", "subject,start")
	q.Set("$orderby", "start/dateTime")
	q.Set("$top", "50")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		o.baseURL+"/me/calendarview?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.token)
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling graph: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("graph returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Value []graphEvent `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding graph response: %w", err)
	}

	events := make([]Event, 0, len(payload.Value))
	for _, ge := range payload.Value {
		// Graph renders times without a zone designator; the Prefer
		// header above pins them to UTC.
		start, err := time.ParseInLocation("2006-01-02T15:04:05", ge.Start.DateTime, time.UTC)
		if err != nil {
			o.logger.Warn("skipping event with unparseable start", "start", ge.Start.DateTime)
			continue
		}
		title := ge.Subject
		if title == "" {
			title = "(untitled)"
		}
		events = append(events, Event{Start: start, Title: title})
	}
	sortByStart(events)
	return events, nil
}
