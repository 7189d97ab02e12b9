// ABOUTME: Tests for the browser chat page and its websocket endpoint.
// ABOUTME: Covers delivery, markdown replies, sessions, and frame filtering.

package webchat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/almanac/internal/frontend"
	"github.com/2389/almanac/internal/web"
)

func newTestServer(t *testing.T) (*Bot, *httptest.Server) {
	t.Helper()
	bot := New(0, nil)
	router := web.NewRouter()
	bot.Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return bot, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wireMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebchat_ServesChatPage(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/chat")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "/chat/ws")
}

func TestWebchat_MessageStartsConversation(t *testing.T) {
	bot, srv := newTestServer(t)

	got := make(chan frontend.Message, 1)
	bot.OnConverse(func(ctx context.Context, text string, conv frontend.Conversation) {
		got <- frontend.Message{From: conv.Who(), Text: text}
	})

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(wireMessage{Text: "what's on today?"}))

	select {
	case msg := <-got:
		assert.Equal(t, "webchat", msg.From.Frontend)
		assert.NotEmpty(t, msg.From.UserID)
		assert.Equal(t, "what's on today?", msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("conversation never started")
	}
}

func TestWebchat_ReplyArrivesRendered(t *testing.T) {
	bot, srv := newTestServer(t)

	bot.OnConverse(func(ctx context.Context, text string, conv frontend.Conversation) {
		assert.NoError(t, conv.Send(ctx, "you have **3 events** today"))
	})

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(wireMessage{Text: "what's on today?"}))

	msg := readFrame(t, conn)
	assert.Equal(t, "bot", msg.Type)
	assert.Equal(t, "you have **3 events** today", msg.Text)
	assert.Contains(t, msg.HTML, "<strong>3 events</strong>")
}

func TestWebchat_FollowupResumesConversation(t *testing.T) {
	bot, srv := newTestServer(t)

	followup := make(chan string, 1)
	bot.OnConverse(func(ctx context.Context, text string, conv frontend.Conversation) {
		assert.NoError(t, conv.Send(ctx, "which day?"))
		reply, err := conv.Recv(ctx)
		if assert.NoError(t, err) {
			followup <- reply
		}
	})

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(wireMessage{Text: "am I free"}))
	readFrame(t, conn) // "which day?"
	require.NoError(t, conn.WriteJSON(wireMessage{Text: "tomorrow"}))

	select {
	case reply := <-followup:
		assert.Equal(t, "tomorrow", reply)
	case <-time.After(2 * time.Second):
		t.Fatal("followup never resumed the conversation")
	}
}

func TestWebchat_EachConnectionIsItsOwnUser(t *testing.T) {
	bot, srv := newTestServer(t)

	users := make(chan string, 2)
	bot.OnConverse(func(ctx context.Context, text string, conv frontend.Conversation) {
		users <- conv.Who().UserID
	})

	first := dial(t, srv)
	second := dial(t, srv)
	require.NoError(t, first.WriteJSON(wireMessage{Text: "hello from tab one"}))
	require.NoError(t, second.WriteJSON(wireMessage{Text: "hello from tab two"}))

	collect := func() string {
		select {
		case id := <-users:
			return id
		case <-time.After(2 * time.Second):
			t.Fatal("conversation never started")
			return ""
		}
	}
	a, b := collect(), collect()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestWebchat_IgnoresBlankAndMalformedFrames(t *testing.T) {
	bot, srv := newTestServer(t)

	got := make(chan string, 4)
	bot.OnConverse(func(ctx context.Context, text string, conv frontend.Conversation) {
		got <- text
	})

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(wireMessage{Text: "   "}))
	require.NoError(t, conn.WriteJSON(wireMessage{Text: "real question"}))

	select {
	case text := <-got:
		assert.Equal(t, "real question", text)
	case <-time.After(2 * time.Second):
		t.Fatal("real message never arrived")
	}
	select {
	case text := <-got:
		t.Fatalf("junk frame was delivered: %q", text)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebchat_SendFailsWhenSessionGone(t *testing.T) {
	bot := New(0, nil)

	err := bot.send(context.Background(), "no-such-session", "hello?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone")
}

func TestRenderMarkdown(t *testing.T) {
	assert.Contains(t, renderMarkdown("*free* all day"), "<em>free</em>")
	assert.Contains(t, renderMarkdown("- one\n- two"), "<li>one</li>")

	// Raw HTML in reply text must not reach the page unescaped.
	assert.NotContains(t, renderMarkdown("<script>alert(1)</script>"), "<script>")
}
