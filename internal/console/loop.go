package console

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mudforge/internal/client"
	"github.com/cory-johannsen/mudforge/internal/scrollback"
)

// Loop is the cooperative main loop: it pumps the session on a fixed tick,
// dispatches typed lines and redraws after each step. Session calls all
// happen on the goroutine running Run.
type Loop struct {
	Session      *client.Session
	Buffer       *scrollback.Buffer
	Renderer     *Renderer
	Input        io.Reader
	TickInterval time.Duration
	// Tail is the default line count for #tail.
	Tail   int
	Logger *zap.Logger
}

// Run drives the session until ctx is done, input ends or the user quits.
// The connection is closed on return.
//
// Postcondition: Returns nil on a normal exit, or the render or poll error
// that stopped the loop.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Session.Disconnect()

	input := ReadInput(ctx, l.Input)
	ticker := time.NewTicker(l.TickInterval)
	defer ticker.Stop()

	if _, err := l.Renderer.Draw(l.Buffer); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-input:
			if !ok {
				l.Logger.Info("input closed")
				return nil
			}
			if n, ok := tailCount(line, l.Tail); ok {
				if _, err := l.Renderer.Replay(l.Buffer.Tail(n)); err != nil {
					return err
				}
				continue
			}
			if err := l.Session.Submit(ctx, line); err != nil {
				l.Logger.Debug("input rejected", zap.String("input", line), zap.Error(err))
			}
		case <-ticker.C:
			if _, err := l.Session.Tick(); err != nil {
				return err
			}
		}
		if _, err := l.Renderer.Draw(l.Buffer); err != nil {
			return err
		}
		if l.Session.Quit() {
			return nil
		}
	}
}

// tailCount parses "#tail" and "#tail N".
func tailCount(line string, def int) (int, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "#tail" {
		return 0, false
	}
	if len(fields) > 1 {
		if n, err := strconv.Atoi(fields[1]); err == nil && n >= 0 {
			return n, true
		}
	}
	return def, true
}
