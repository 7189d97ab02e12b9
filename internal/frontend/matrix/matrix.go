// ABOUTME: Matrix chat backend built on a mautrix sync loop.
// ABOUTME: Routes room messages into conversations and replies with SendText.

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/almanac/internal/config"
	"github.com/2389/almanac/internal/dedupe"
	"github.com/2389/almanac/internal/frontend"
)

// typingTimeout is the duration the typing indicator shows.
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for fire-and-forget Matrix API calls.
const networkTimeout = 10 * time.Second

// Bot is the Matrix backend. It syncs against the homeserver with a
// long-lived access token and keys conversations by room plus sender, so a
// user talking to the bot in two rooms holds two independent threads.
type Bot struct {
	cfg        config.MatrixConfig
	client     *mautrix.Client
	dispatcher *frontend.Dispatcher
	dedupe     *dedupe.Cache
	crypto     *cryptoManager
	logger     *slog.Logger

	mu     sync.Mutex
	runCtx context.Context
}

// New creates the Matrix backend. replyTimeout bounds each conversation
// Recv; zero means wait forever.
func New(cfg config.MatrixConfig, replyTimeout time.Duration, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	b := &Bot{
		cfg:    cfg,
		client: client,
		dedupe: dedupe.New(5*time.Minute, 10_000),
		logger: logger.With("component", "matrix"),
	}
	b.dispatcher = frontend.NewDispatcher("matrix", b.send, replyTimeout, logger)
	return b, nil
}

// Name returns the backend's namespace.
func (b *Bot) Name() string {
	return "matrix"
}

// OnConverse registers the new-conversation hook.
func (b *Bot) OnConverse(fn frontend.ConverseFunc) {
	b.dispatcher.OnConverse(fn)
}

// Run connects to the homeserver and blocks until ctx is done or the sync
// loop fails. Encryption is set up first when a recovery key is configured.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.runCtx = ctx
	b.mu.Unlock()

	b.logger.Info("starting matrix frontend",
		"homeserver", b.cfg.Homeserver,
		"user_id", b.cfg.UserID,
	)

	if b.cfg.RecoveryKey != "" {
		crypto, err := setupCrypto(ctx, b.client, b.cfg.UserID, b.cfg.RecoveryKey, b.cfg.DataDir, b.logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		b.crypto = crypto
		defer b.crypto.Close()
	} else {
		b.logger.Info("encryption disabled (no recovery key)")
	}

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(ctx)
	}()

	b.logger.Info("matrix frontend running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix frontend")
		b.dedupe.Close()
		return nil
	case err := <-syncErr:
		b.dedupe.Close()
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

func (b *Bot) runContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runCtx != nil {
		return b.runCtx
	}
	return context.Background()
}

// handleMessageEvent routes one synced room message.
func (b *Bot) handleMessageEvent(ctx context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == id.UserID(b.cfg.UserID) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}
	if content.MsgType != event.MsgText {
		return
	}

	roomID := evt.RoomID.String()
	if !b.roomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	// Initial syncs can replay history, and reconnects can repeat events.
	if b.dedupe.Seen("matrix:" + evt.ID.String()) {
		b.logger.Debug("duplicate matrix event ignored", "event_id", evt.ID.String())
		return
	}

	body := strings.TrimSpace(content.Body)
	if body == "" {
		return
	}

	b.logger.Debug("received message", "room", roomID, "sender", evt.Sender.String())

	b.dispatcher.Deliver(b.runContext(), roomID+"|"+evt.Sender.String(), frontend.Message{
		From: frontend.Identity{Frontend: "matrix", UserID: evt.Sender.String()},
		Text: body,
	})
	// Off the sync loop; the indicator is best-effort.
	go b.setTyping(evt.RoomID, true)
}

func (b *Bot) roomAllowed(roomID string) bool {
	if len(b.cfg.AllowedRooms) == 0 {
		return true
	}
	for _, allowed := range b.cfg.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// send replies into the room half of the conversation key.
func (b *Bot) send(ctx context.Context, key, text string) error {
	room, _, ok := strings.Cut(key, "|")
	if !ok {
		return fmt.Errorf("malformed conversation key %q", key)
	}
	roomID := id.RoomID(room)

	b.setTyping(roomID, false)
	if _, err := b.client.SendText(ctx, roomID, text); err != nil {
		return fmt.Errorf("sending to %s: %w", room, err)
	}
	return nil
}

// setTyping sends the typing indicator to a room. Failures only get logged;
// the indicator is cosmetic.
func (b *Bot) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.client.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}
