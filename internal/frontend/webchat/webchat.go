// ABOUTME: Browser chat backend: a served page plus one websocket per visitor.
// ABOUTME: Each connection is its own anonymous user with a fresh session key.

package webchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yuin/goldmark"

	"github.com/2389/almanac/internal/frontend"
	"github.com/2389/almanac/internal/web"
)

// maxMessageSize bounds one inbound socket frame.
const maxMessageSize = 64 * 1024

// wireMessage is one frame on the chat socket. The browser sends {text};
// the server pushes {type, text, html} where html is the rendered reply.
type wireMessage struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`
}

// session is one connected browser tab.
type session struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // gorilla allows one concurrent writer
}

func (s *session) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Bot is the webchat backend. It mounts a chat page and a websocket endpoint
// on the shared web server; every socket connection becomes an independent
// anonymous user keyed by a generated session ID.
type Bot struct {
	dispatcher *frontend.Dispatcher
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	mu       sync.Mutex
	runCtx   context.Context
	sessions map[string]*session
}

// New creates the webchat backend. replyTimeout bounds each conversation
// Recv; zero means wait forever.
func New(replyTimeout time.Duration, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bot{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger:   logger.With("component", "webchat"),
		sessions: make(map[string]*session),
	}
	b.dispatcher = frontend.NewDispatcher("webchat", b.send, replyTimeout, logger)
	return b
}

// Name returns the backend's namespace.
func (b *Bot) Name() string {
	return "webchat"
}

// OnConverse registers the new-conversation hook.
func (b *Bot) OnConverse(fn frontend.ConverseFunc) {
	b.dispatcher.OnConverse(fn)
}

// Register mounts the chat page and socket on the router.
func (b *Bot) Register(r *web.Router) {
	r.Handle(http.MethodGet, "/chat", b.handleChatPage)
	r.Handle(http.MethodGet, "/chat/ws", b.handleChatSocket)
}

// Run parks until ctx is done, then closes every open socket. The transport
// itself is the shared web server.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.runCtx = ctx
	b.mu.Unlock()

	b.logger.Info("webchat frontend ready")
	<-ctx.Done()

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.sessions {
		_ = s.conn.Close()
		delete(b.sessions, id)
	}
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

func (b *Bot) handleChatPage(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/chat.html"))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, struct{ Title string }{Title: "almanac"}); err != nil {
		b.logger.Error("failed to render chat page", "error", err)
	}
}

func (b *Bot) handleChatSocket(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		b.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	s := &session{id: uuid.NewString(), conn: conn}
	b.addSession(s)
	defer b.removeSession(s.id)

	b.logger.Debug("webchat session opened", "session", s.id)
	conn.SetReadLimit(maxMessageSize)

	who := frontend.Identity{Frontend: "webchat", UserID: s.id}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.logger.Debug("webchat session closed", "session", s.id, "error", err)
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Debug("ignoring malformed frame", "session", s.id)
			continue
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}

		b.dispatcher.Deliver(b.runContext(), s.id, frontend.Message{From: who, Text: text})
	}
}

func (b *Bot) addSession(s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s.id] = s
}

func (b *Bot) removeSession(id string) {
	b.mu.Lock()
	s, ok := b.sessions[id]
	delete(b.sessions, id)
	b.mu.Unlock()
	if ok {
		_ = s.conn.Close()
	}
}

func (b *Bot) session(id string) (*session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	return s, ok
}

// send pushes a bot reply down the session's socket, rendered from markdown
// so lists and emphasis in replies survive the trip to the browser.
func (b *Bot) send(ctx context.Context, key, text string) error {
	s, ok := b.session(key)
	if !ok {
		return fmt.Errorf("webchat session %s is gone", key)
	}

	if err := s.write(wireMessage{Type: "bot", Text: text, HTML: renderMarkdown(text)}); err != nil {
		return fmt.Errorf("writing to session %s: %w", key, err)
	}
	return nil
}

// renderMarkdown converts reply markdown to HTML. Raw HTML in the source is
// escaped by default, which is exactly what we want for a browser surface.
func renderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return template.HTMLEscapeString(text)
	}
	return buf.String()
}
