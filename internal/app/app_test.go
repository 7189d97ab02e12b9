// ABOUTME: Tests for app assembly and lifecycle.
// ABOUTME: Covers frontend selection, classifier choice, and shutdown.

package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/almanac/internal/config"
	"github.com/2389/almanac/internal/nlp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "almanac.db")},
		Frontends: config.FrontendsConfig{
			Webchat: config.WebchatConfig{Enabled: true},
		},
	}
}

func TestApp_RequiresAFrontend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Frontends.Webchat.Enabled = false

	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no frontends enabled")
}

func TestApp_BuildsEnabledFrontends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Frontends.Terminal.Enabled = true
	cfg.Frontends.Slack = config.SlackConfig{
		Enabled:       true,
		SigningSecret: "secret",
		BotToken:      "xoxb-token",
	}

	app, err := New(cfg, nil)
	require.NoError(t, err)
	defer app.store.Close()

	assert.Equal(t, []string{"terminal", "slack", "webchat"}, app.Frontends())
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	app, err := New(testConfig(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	// Give the listener a moment to come up before tearing it down.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestBuildClassifier(t *testing.T) {
	t.Run("keyword fallback", func(t *testing.T) {
		c := buildClassifier(config.NLPConfig{}, testLogger())
		_, ok := c.(nlp.Keywords)
		assert.True(t, ok, "expected the keyword classifier, got %T", c)
	})

	t.Run("wit when token set", func(t *testing.T) {
		c := buildClassifier(config.NLPConfig{WitToken: "tok"}, testLogger())
		_, ok := c.(*nlp.Client)
		assert.True(t, ok, "expected the wit client, got %T", c)
	})
}

func TestResolveDatabasePath(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Path: "/from/config.db"}}

	assert.Equal(t, "/from/config.db", resolveDatabasePath(cfg))

	t.Setenv("ALMANAC_DB_PATH", "/from/env.db")
	assert.Equal(t, "/from/env.db", resolveDatabasePath(cfg))
}

func TestDefaultDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "almanac"), defaultDataDir())
}
