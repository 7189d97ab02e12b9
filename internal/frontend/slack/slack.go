// ABOUTME: Slack chat backend speaking the Events API over a webhook.
// ABOUTME: Verifies request signatures, dedupes retries, posts replies.

package slack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/2389/almanac/internal/config"
	"github.com/2389/almanac/internal/dedupe"
	"github.com/2389/almanac/internal/frontend"
	"github.com/2389/almanac/internal/web"
)

const (
	apiBaseURL = "https://slack.com/api"

	// signatureWindow bounds how old a signed request may be. Anything
	// outside it is treated as a replay.
	signatureWindow = 5 * time.Minute
)

// Bot is the Slack backend. Inbound messages arrive on the events webhook;
// replies go out through chat.postMessage. Conversations are keyed by
// channel plus user, so the same person gets independent threads in
// different channels.
type Bot struct {
	cfg        config.SlackConfig
	dispatcher *frontend.Dispatcher
	dedupe     *dedupe.Cache
	client     *http.Client
	baseURL    string
	logger     *slog.Logger

	mu     sync.Mutex
	runCtx context.Context
}

// New creates the Slack backend. replyTimeout bounds each conversation Recv;
// zero means wait forever.
func New(cfg config.SlackConfig, replyTimeout time.Duration, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bot{
		cfg:     cfg,
		dedupe:  dedupe.New(5*time.Minute, 10_000),
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: apiBaseURL,
		logger:  logger.With("component", "slack"),
	}
	b.dispatcher = frontend.NewDispatcher("slack", b.send, replyTimeout, logger)
	return b
}

// Name returns the backend's namespace.
func (b *Bot) Name() string {
	return "slack"
}

// OnConverse registers the new-conversation hook.
func (b *Bot) OnConverse(fn frontend.ConverseFunc) {
	b.dispatcher.OnConverse(fn)
}

// Register mounts the events webhook on the router.
func (b *Bot) Register(r *web.Router) {
	r.Handle(http.MethodPost, "/slack/events", b.handleEvents)
}

// Run parks until ctx is done. The transport is the shared web server, so
// there is no connection of our own to drive; Run pins the context that
// conversations spawned by webhook deliveries inherit.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.runCtx = ctx
	b.mu.Unlock()

	b.logger.Info("slack frontend ready", "allowed_channels", len(b.cfg.AllowedChannels))
	<-ctx.Done()
	b.dedupe.Close()
	return nil
}

func (b *Bot) runContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runCtx != nil {
		return b.runCtx
	}
	return context.Background()
}

// slackEnvelope is the slice of the Events API payload this backend reads.
type slackEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	EventID   string `json:"event_id"`
	Event     struct {
		Type    string `json:"type"`
		Subtype string `json:"subtype"`
		BotID   string `json:"bot_id"`
		Channel string `json:"channel"`
		User    string `json:"user"`
		Text    string `json:"text"`
	} `json:"event"`
}

func (b *Bot) handleEvents(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !b.verifySignature(r.Header, body) {
		b.logger.Warn("rejected slack request with bad signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var envelope slackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch envelope.Type {
	case "url_verification":
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(envelope.Challenge))
		return
	case "event_callback":
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	// Ack before processing; Slack retries events that are not answered
	// quickly, and the dedupe cache absorbs the retries we do get.
	w.WriteHeader(http.StatusOK)

	ev := envelope.Event
	if ev.Type != "message" || ev.BotID != "" || ev.Subtype != "" {
		return
	}
	if ev.User == "" || ev.Text == "" {
		return
	}
	if !b.channelAllowed(ev.Channel) {
		b.logger.Debug("ignoring message from disallowed channel", "channel", ev.Channel)
		return
	}
	if envelope.EventID != "" && b.dedupe.Seen("slack:"+envelope.EventID) {
		b.logger.Debug("duplicate slack event ignored", "event_id", envelope.EventID)
		return
	}

	b.dispatcher.Deliver(b.runContext(), ev.Channel+"|"+ev.User, frontend.Message{
		From: frontend.Identity{Frontend: "slack", UserID: ev.User},
		Text: ev.Text,
	})
}

// verifySignature checks the v0 request signature: HMAC-SHA256 of
// "v0:<timestamp>:<body>" with the signing secret, compared in constant
// time, with the timestamp confined to the replay window.
func (b *Bot) verifySignature(h http.Header, body []byte) bool {
	ts := h.Get("X-Slack-Request-Timestamp")
	sig := h.Get("X-Slack-Signature")
	if ts == "" || sig == "" {
		return false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	age := time.Since(time.Unix(unix, 0))
	if age > signatureWindow || age < -signatureWindow {
		return false
	}

	mac := hmac.New(sha256.New, []byte(b.cfg.SigningSecret))
	mac.Write([]byte("v0:" + ts + ":"))
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (b *Bot) channelAllowed(channel string) bool {
	if len(b.cfg.AllowedChannels) == 0 {
		return true
	}
	return slices.Contains(b.cfg.AllowedChannels, channel)
}

// send posts text back to the channel half of the conversation key.
func (b *Bot) send(ctx context.Context, key, text string) error {
	channel, _, ok := strings.Cut(key, "|")
	if !ok {
		return fmt.Errorf("malformed conversation key %q", key)
	}

	payload, err := json.Marshal(map[string]string{"channel": channel, "text": text})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/chat.postMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+b.cfg.BotToken)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding slack response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("chat.postMessage failed: %s", result.Error)
	}
	return nil
}
