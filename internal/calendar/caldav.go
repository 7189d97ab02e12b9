// ABOUTME: CalDAV accessor speaking the calendar-query and PUT protocol.
// ABOUTME: Works against any standard CalDAV collection with basic auth.

package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

// scheduledDuration is the slot length for events booked through Schedule.
const scheduledDuration = 30 * time.Minute

type calDAV struct {
	client *caldav.Client
	path   string
	logger *slog.Logger
}

func newCalDAV(cfg Config, logger *slog.Logger) (*calDAV, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing caldav url: %w", err)
	}

	httpClient := webdav.HTTPClientWithBasicAuth(
		&http.Client{Timeout: 30 * time.Second}, cfg.Username, cfg.Password)
	client, err := caldav.NewClient(httpClient, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("creating caldav client: %w", err)
	}

	return &calDAV{
		client: client,
		path:   base.Path,
		logger: logger.With("component", "caldav"),
	}, nil
}

func (c *calDAV) Events(ctx context.Context, from, to time.Time) ([]Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: from.UTC(),
				End:   to.UTC(),
			}},
		},
	}

	objs, err := c.client.QueryCalendar(ctx, c.path, query)
	if err != nil {
		return nil, fmt.Errorf("querying calendar: %w", err)
	}

	events := collectEvents(objs, from, to)
	c.logger.Debug("queried calendar", "objects", len(objs), "events", len(events))
	return events, nil
}

// collectEvents flattens query results into ordered events. Servers are not
// obliged to apply the time filter exactly, so the range is re-checked here.
func collectEvents(objs []caldav.CalendarObject, from, to time.Time) []Event {
	var events []Event
	for _, obj := range objs {
		if obj.Data == nil {
			continue
		}
		for _, ev := range obj.Data.Events() {
			start, err := ev.DateTimeStart(time.Local)
			if err != nil {
				continue
			}
			if start.Before(from) || !start.Before(to) {
				continue
			}
			title, err := ev.Props.Text(ical.PropSummary)
			if err != nil || title == "" {
				title = "(untitled)"
			}
			events = append(events, Event{Start: start, Title: title})
		}
	}
	sortByStart(events)
	return events
}

func (c *calDAV) Schedule(ctx context.Context, ev Event) error {
	uid := uuid.NewString()

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, ev.Start.Add(scheduledDuration).UTC())
	vevent.Props.SetText(ical.PropSummary, ev.Title)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//almanac//calendar//EN")
	cal.Children = append(cal.Children, vevent.Component)

	path := strings.TrimSuffix(c.path, "/") + "/" + uid + ".ics"
	if _, err := c.client.PutCalendarObject(ctx, path, cal); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}

	c.logger.Info("scheduled event", "uid", uid, "start", ev.Start)
	return nil
}
