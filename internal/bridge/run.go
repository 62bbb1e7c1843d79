package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mihaisavezi/cc-adapter/internal/convert"
)

const (
	DefaultPingInterval = 15 * time.Second
	maxLineSize         = 4 << 20
)

type Options struct {
	// Model is reported in message_start.
	Model         string
	StopSequences []string
	// PingInterval is the idle time before a ping is written. Zero uses
	// DefaultPingInterval.
	PingInterval time.Duration
	// ReadTimeout bounds the wait for the next upstream line. Pings do not
	// extend it. Zero disables the limit.
	ReadTimeout time.Duration
	// ExpectUsage is set when the upstream was asked for a trailing usage chunk.
	ExpectUsage bool
	Logger      *slog.Logger
}

// ErrReadTimeout is returned by Run when the upstream sends nothing for
// Options.ReadTimeout.
var ErrReadTimeout = errors.New("upstream read timeout")

type line struct {
	text string
	err  error
}

// Run copies upstream's SSE stream to w as Anthropic events until the stream
// finishes, fails, or ctx is cancelled. w is flushed after every write when it
// implements http.Flusher. The caller closes upstream after Run returns, which
// also stops the reader goroutine.
func Run(ctx context.Context, upstream io.Reader, w io.Writer, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.PingInterval
	if interval <= 0 {
		interval = DefaultPingInterval
	}

	bridgeOpts := []Option{WithLogger(logger)}
	if opts.ExpectUsage {
		bridgeOpts = append(bridgeOpts, WithTrailingUsage())
	}
	b := New(opts.Model, opts.StopSequences, bridgeOpts...)

	done := make(chan struct{})
	defer close(done)
	lines := readLines(upstream, done)

	idle := time.NewTimer(interval)
	defer idle.Stop()

	var stalled <-chan time.Time
	var readTimer *time.Timer
	if opts.ReadTimeout > 0 {
		readTimer = time.NewTimer(opts.ReadTimeout)
		defer readTimer.Stop()
		stalled = readTimer.C
	}

	write := func(events []Event) error {
		if len(events) == 0 {
			return nil
		}
		for _, ev := range events {
			if _, err := w.Write(ev.Bytes()); err != nil {
				return fmt.Errorf("write %s event: %w", ev.Type, err)
			}
		}
		flush(w)
		idle.Reset(interval)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("client went away, stopping stream", "model", opts.Model, "state", b.State())
			return ctx.Err()

		case <-idle.C:
			if err := write([]Event{pingEvent()}); err != nil {
				return err
			}

		case <-stalled:
			logger.Warn("upstream stream stalled", "model", opts.Model, "timeout", opts.ReadTimeout, "state", b.State())
			if err := write(b.Fail(fmt.Sprintf("upstream timeout: no data for %s", opts.ReadTimeout))); err != nil {
				return err
			}
			return fmt.Errorf("%w after %s", ErrReadTimeout, opts.ReadTimeout)

		case l := <-lines:
			if readTimer != nil {
				readTimer.Reset(opts.ReadTimeout)
			}
			if l.err != nil {
				if errors.Is(l.err, io.EOF) {
					return write(b.End())
				}
				if ctx.Err() != nil {
					logger.Debug("upstream read stopped after cancellation", "error", l.err)
					return ctx.Err()
				}
				logger.Warn("upstream stream failed", "error", l.err)
				if err := write(b.Fail("upstream stream interrupted: " + l.err.Error())); err != nil {
					return err
				}
				return fmt.Errorf("read upstream stream: %w", l.err)
			}

			data, ok := dataLine(l.text)
			if !ok {
				continue
			}
			if data == "[DONE]" {
				return write(b.End())
			}

			var chunk convert.StreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				logger.Warn("skipping malformed stream chunk", "error", err, "data", truncate(data, 200))
				continue
			}
			if chunk.Error != nil {
				logger.Warn("upstream reported an error mid-stream", "message", chunk.Error.Message)
			}

			if err := write(b.Feed(&chunk)); err != nil {
				return err
			}
			if b.Done() {
				return nil
			}
		}
	}
}

// readLines scans upstream in its own goroutine so the caller can select on
// pings and cancellation. The final value carries io.EOF or the read error.
func readLines(upstream io.Reader, done <-chan struct{}) <-chan line {
	out := make(chan line)
	go func() {
		send := func(l line) bool {
			select {
			case out <- l:
				return true
			case <-done:
				return false
			}
		}

		scanner := bufio.NewScanner(upstream)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			if !send(line{text: scanner.Text()}) {
				return
			}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		send(line{err: err})
	}()
	return out
}

// dataLine extracts the payload of an SSE "data:" line. Comments, blank lines
// and other fields are skipped.
func dataLine(raw string) (string, bool) {
	raw = strings.TrimRight(raw, "\r")
	if !strings.HasPrefix(raw, "data:") {
		return "", false
	}
	data := strings.TrimSpace(strings.TrimPrefix(raw, "data:"))
	return data, data != ""
}

func flush(w io.Writer) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
