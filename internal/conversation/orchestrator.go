// ABOUTME: Orchestrator owning the lifecycle of every bot conversation
// ABOUTME: Classifies each opening message and drives the matching intent handler

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/almanac/internal/calendar"
	"github.com/2389/almanac/internal/frontend"
	"github.com/2389/almanac/internal/future"
	"github.com/2389/almanac/internal/nlp"
	"github.com/2389/almanac/internal/settings"
)

// Fixed replies for the conversational intents.
const (
	greetingReply = "Hello! I'm almanac, your calendar assistant. Ask me what's on your calendar, or have me schedule a meeting."
	byeReply      = "Goodbye! Ping me whenever you need your calendar."
	thanksReply   = "You're welcome!"
	helpReply     = "Here's what I can do:\n" +
		"• \"what's on my calendar\" lists the rest of today's events\n" +
		"• \"schedule a meeting\" books a new event\n" +
		"• \"set up my calendar\" connects or changes your calendar account\n" +
		"Say \"bye\" when you're done."
	unrecognizedReply = "Sorry, I didn't catch that. Try \"what's on my calendar\" or \"schedule a meeting\", or say \"help\"."
	apologyReply      = "Sorry, something went wrong on my end. Please try again in a bit."
	timeoutReply      = "Looks like you stepped away. Ask me again whenever you're ready."
	noEventsReply     = "You have nothing scheduled for the rest of the day."
)

// SettingsStore defines what the orchestrator needs from persistence.
type SettingsStore interface {
	Ensure(ctx context.Context, userID string) (*settings.Record, error)
	Save(ctx context.Context, rec *settings.Record) error
}

// Options carries the orchestrator's tunables.
type Options struct {
	// BaseURL is the public base for settings links, without a trailing
	// slash.
	BaseURL string

	// SettingsTimeout bounds how long a conversation waits for the web
	// settings form. Zero waits forever.
	SettingsTimeout time.Duration
}

// Orchestrator conducts conversations. It is coded only against the
// frontend contract, so every backend gets identical behavior.
type Orchestrator struct {
	classifier nlp.Classifier
	store      SettingsStore
	futures    *future.Registry[calendar.Config]
	opts       Options
	logger     *slog.Logger

	// openCalendar builds the accessor for a resolved config; swapped out
	// in tests.
	openCalendar func(cfg calendar.Config, logger *slog.Logger) (calendar.Accessor, error)
}

// New creates the orchestrator. futures must be the same registry the web
// settings handlers resolve into.
func New(classifier nlp.Classifier, store SettingsStore, futures *future.Registry[calendar.Config], opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		classifier:   classifier,
		store:        store,
		futures:      futures,
		opts:         opts,
		logger:       logger.With("component", "conversation"),
		openCalendar: calendar.Open,
	}
}

// Attach registers the orchestrator as bot's conversation handler.
func (o *Orchestrator) Attach(bot frontend.Bot) {
	bot.OnConverse(o.Converse)
}

// Converse handles one conversation from its opening message to its end.
// Collaborator failures are caught here: the user gets an apology and the
// conversation ends, but the process lives on.
func (o *Orchestrator) Converse(ctx context.Context, text string, conv frontend.Conversation) {
	who := conv.Who().String()
	o.logger.Info("conversation started", "user", who)

	err := o.dispatch(ctx, text, conv)
	switch {
	case err == nil:
		o.logger.Debug("conversation finished", "user", who)
	case errors.Is(err, context.Canceled):
		// Shutdown or transport teardown; nobody is listening anymore.
		o.logger.Debug("conversation cancelled", "user", who)
	case errors.Is(err, context.DeadlineExceeded):
		o.logger.Info("conversation timed out", "user", who)
		if err := conv.Send(ctx, timeoutReply); err != nil {
			o.logger.Warn("sending timeout notice failed", "user", who, "error", err)
		}
	default:
		o.logger.Error("conversation failed", "user", who, "error", err)
		if err := conv.Send(ctx, apologyReply); err != nil {
			o.logger.Warn("sending apology failed", "user", who, "error", err)
		}
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, text string, conv frontend.Conversation) error {
	result, err := o.classifier.Classify(ctx, text)
	if err != nil {
		return fmt.Errorf("classifying message: %w", err)
	}

	// Conversational niceties take precedence over any extracted intent.
	switch {
	case result.Has("greetings"):
		return conv.Send(ctx, greetingReply)
	case result.Has("bye"):
		return conv.Send(ctx, byeReply)
	case result.Has("thanks"):
		return conv.Send(ctx, thanksReply)
	}

	switch intent := result.Intent(); intent {
	case "show_calendar":
		return o.showCalendar(ctx, conv)
	case "schedule_meeting":
		return o.scheduleMeeting(ctx, conv)
	case "setup_calendar":
		return o.setupCalendar(ctx, conv)
	case "help":
		return conv.Send(ctx, helpReply)
	default:
		if intent != "" {
			o.logger.Debug("unmatched intent", "intent", intent)
		}
		return conv.Send(ctx, unrecognizedReply)
	}
}

// resolveAccessor returns a working calendar accessor for the user,
// gathering settings first when none are configured yet.
func (o *Orchestrator) resolveAccessor(ctx context.Context, conv frontend.Conversation) (calendar.Accessor, error) {
	rec, err := o.store.Ensure(ctx, conv.Who().String())
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	if !rec.Configured() {
		if err := o.gatherSettings(ctx, conv, rec); err != nil {
			return nil, err
		}
	}

	acc, err := o.openCalendar(rec.Calendar, o.logger)
	if err != nil {
		return nil, fmt.Errorf("opening calendar: %w", err)
	}
	return acc, nil
}

func (o *Orchestrator) showCalendar(ctx context.Context, conv frontend.Conversation) error {
	acc, err := o.resolveAccessor(ctx, conv)
	if err != nil {
		return err
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	events, err := acc.Events(ctx, now, midnight)
	if err != nil {
		return fmt.Errorf("listing events: %w", err)
	}

	if len(events) == 0 {
		return conv.Send(ctx, noEventsReply)
	}

	var b strings.Builder
	b.WriteString("Here's the rest of your day:\n")
	for _, ev := range events {
		fmt.Fprintf(&b, "• %s %s\n", ev.Start.Local().Format("15:04"), ev.Title)
	}
	return conv.Send(ctx, strings.TrimRight(b.String(), "\n"))
}

func (o *Orchestrator) scheduleMeeting(ctx context.Context, conv frontend.Conversation) error {
	acc, err := o.resolveAccessor(ctx, conv)
	if err != nil {
		return err
	}
	scheduler, ok := acc.(calendar.Scheduler)
	if !ok {
		return conv.Send(ctx, "Your calendar provider is read-only here, so I can't book meetings on it yet.")
	}

	if err := conv.Send(ctx, "What should I call the meeting?"); err != nil {
		return err
	}
	title, err := conv.Recv(ctx)
	if err != nil {
		return fmt.Errorf("waiting for a title: %w", err)
	}
	title = strings.TrimSpace(title)

	if err := conv.Send(ctx, "When should it start? Try \"tomorrow at 15:00\" or \"2026-08-25 09:30\"."); err != nil {
		return err
	}

	var start time.Time
	for attempt := 0; ; attempt++ {
		answer, err := conv.Recv(ctx)
		if err != nil {
			return fmt.Errorf("waiting for a start time: %w", err)
		}
		start, err = parseWhen(answer, time.Now())
		if err == nil {
			break
		}
		if attempt > 0 {
			return conv.Send(ctx, "I still couldn't read that as a time, so let's leave it for now.")
		}
		if err := conv.Send(ctx, "I couldn't read that as a time. Something like \"tomorrow at 9:30\" works."); err != nil {
			return err
		}
	}

	if err := scheduler.Schedule(ctx, calendar.Event{Start: start, Title: title}); err != nil {
		return fmt.Errorf("scheduling %q: %w", title, err)
	}
	return conv.Send(ctx, fmt.Sprintf("Done! %q is on your calendar for %s.",
		title, start.Format("Monday, Jan 2 at 15:04")))
}

func (o *Orchestrator) setupCalendar(ctx context.Context, conv frontend.Conversation) error {
	rec, err := o.store.Ensure(ctx, conv.Who().String())
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	// The explicit override path: re-gather even when settings exist.
	if err := o.gatherSettings(ctx, conv, rec); err != nil {
		return err
	}
	return conv.Send(ctx, "All set! Ask me what's on your calendar to try it out.")
}

// gatherSettings walks the user through the web settings form and persists
// the result. The conversation suspends until the form is submitted or the
// settings timeout expires.
func (o *Orchestrator) gatherSettings(ctx context.Context, conv frontend.Conversation, rec *settings.Record) error {
	token, err := o.futures.Issue()
	if err != nil {
		return fmt.Errorf("minting settings token: %w", err)
	}

	link := strings.TrimSuffix(o.opts.BaseURL, "/") + "/settings/" + token
	if err := conv.Send(ctx, "I need your calendar details first. Open this link to connect your calendar:\n"+link); err != nil {
		return fmt.Errorf("sending settings link: %w", err)
	}
	o.logger.Info("waiting for settings form", "user", conv.Who().String())

	if t := o.opts.SettingsTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	cfg, err := o.futures.Get(ctx, token)
	if err != nil {
		return fmt.Errorf("waiting for settings: %w", err)
	}

	rec.Calendar = cfg
	if err := o.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}

	o.logger.Info("settings gathered", "user", conv.Who().String(), "provider", cfg.Provider)
	return conv.Send(ctx, "Got it, your calendar is connected.")
}
