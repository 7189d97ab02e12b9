// ABOUTME: Stdin/stdout chat backend for local development.
// ABOUTME: One fixed user; lines in, colored replies out.

package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/2389/almanac/internal/config"
	"github.com/2389/almanac/internal/frontend"
)

// Bot reads messages line by line from standard input and prints replies to
// standard output. There is a single conversation key, the configured user,
// so consecutive lines reach whichever conversation is currently waiting.
type Bot struct {
	user       string
	dispatcher *frontend.Dispatcher
	logger     *slog.Logger

	in  io.Reader
	out io.Writer
	mu  sync.Mutex // serializes writes to out
}

// New creates the terminal backend. replyTimeout bounds each conversation
// Recv; zero means wait forever.
func New(cfg config.TerminalConfig, replyTimeout time.Duration, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	user := cfg.User
	if user == "" {
		user = "local"
	}
	b := &Bot{
		user:   user,
		logger: logger.With("component", "terminal"),
		in:     os.Stdin,
		out:    os.Stdout,
	}
	b.dispatcher = frontend.NewDispatcher("terminal", b.send, replyTimeout, logger)
	return b
}

// Name returns the backend's namespace.
func (b *Bot) Name() string {
	return "terminal"
}

// OnConverse registers the new-conversation hook.
func (b *Bot) OnConverse(fn frontend.ConverseFunc) {
	b.dispatcher.OnConverse(fn)
}

// Run reads lines until ctx is done or stdin closes. Returns nil on both;
// closing the terminal is not a failure.
func (b *Bot) Run(ctx context.Context) error {
	who := frontend.Identity{Frontend: "terminal", UserID: b.user}

	b.writeLine(func(w io.Writer) {
		fmt.Fprintln(w, "Type a message and press Enter. Ctrl+D to quit.")
	})

	scanner := bufio.NewScanner(b.in)
	for {
		b.writeLine(func(w io.Writer) {
			color.New(color.FgGreen).Fprint(w, "> ")
		})

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else if err := scanner.Err(); err != nil {
				errCh <- err
			} else {
				errCh <- io.EOF
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				b.logger.Info("stdin closed")
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		b.dispatcher.Deliver(ctx, b.user, frontend.Message{From: who, Text: input})
	}
}

func (b *Bot) send(ctx context.Context, key, text string) error {
	b.writeLine(func(w io.Writer) {
		color.New(color.FgCyan).Fprint(w, "almanac> ")
		fmt.Fprintln(w, text)
	})
	return nil
}

func (b *Bot) writeLine(f func(io.Writer)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f(b.out)
}
