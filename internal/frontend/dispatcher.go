// ABOUTME: Shared inbound-event plumbing used by every chat backend.
// ABOUTME: Resumes waiting conversations or spawns a handler for new ones.

package frontend

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/almanac/internal/spool"
)

// SendFunc delivers outbound text for the conversation identified by key.
// Each backend parses its own key format to route the send.
type SendFunc func(ctx context.Context, key, text string) error

// Dispatcher owns a backend's spool and implements the conversation
// lifecycle decisions: an inbound event either resumes the receiver waiting
// on its key, is buffered for a conversation that is still starting, or
// begins a new conversation by invoking the registered hook on its own
// goroutine.
type Dispatcher struct {
	frontend     string
	send         SendFunc
	spool        *spool.Spool[Message]
	replyTimeout time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	converse ConverseFunc
}

// NewDispatcher creates the dispatcher for one backend. frontend is the
// backend's namespace, send its outbound path. replyTimeout bounds each
// Recv; zero means wait forever.
func NewDispatcher(frontend string, send SendFunc, replyTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		frontend:     frontend,
		send:         send,
		spool:        spool.New[Message](),
		replyTimeout: replyTimeout,
		logger:       logger.With("component", frontend),
	}
}

// OnConverse registers the new-conversation hook.
func (d *Dispatcher) OnConverse(fn ConverseFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.converse = fn
}

func (d *Dispatcher) hook() ConverseFunc {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.converse
}

// Deliver routes one inbound message. key is the backend's conversation key
// for the sender. ctx should be the backend's run context: a conversation
// spawned by this delivery lives until that context ends, not just for the
// duration of the delivering webhook or sync callback.
func (d *Dispatcher) Deliver(ctx context.Context, key string, msg Message) {
	if d.spool.Dispatch(key, msg) {
		return
	}

	hook := d.hook()
	if hook == nil {
		d.logger.Warn("message arrived before a conversation handler was registered",
			"key", key)
		return
	}

	if !d.spool.Open(key) {
		// A handler for this key is already starting and holds one
		// buffered message; further arrivals in the gap are dropped.
		d.logger.Warn("dropping message during conversation startup", "key", key)
		return
	}

	d.logger.Debug("starting conversation", "key", key, "user", msg.From.UserID)
	conv := &conversation{dispatcher: d, key: key, who: msg.From}
	go func() {
		defer d.spool.Close(key)
		hook(ctx, msg.Text, conv)
		d.logger.Debug("conversation ended", "key", key)
	}()
}

// conversation adapts a spool key plus the dispatcher's send path into the
// Conversation capability handed to the orchestrator.
type conversation struct {
	dispatcher *Dispatcher
	key        string
	who        Identity
}

func (c *conversation) Send(ctx context.Context, text string) error {
	return c.dispatcher.send(ctx, c.key, text)
}

func (c *conversation) Recv(ctx context.Context) (string, error) {
	if t := c.dispatcher.replyTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	msg, err := c.dispatcher.spool.Wait(ctx, c.key)
	if err != nil {
		return "", err
	}
	return msg.Text, nil
}

func (c *conversation) Who() Identity {
	return c.who
}
