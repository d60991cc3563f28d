package chat

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
)

// Relay carries locally typed lines from a blocking reader to the
// reconciler, which polls it once per tick.
type Relay struct {
	lines chan string
	log   *slog.Logger
}

func NewRelay(capacity int, logger *slog.Logger) *Relay {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{lines: make(chan string, capacity), log: logger}
}

// Feed reads lines from in until EOF or ctx is done. Blank lines are
// dropped. When the queue is full Feed blocks, which in turn stops reading.
func (r *Relay) Feed(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if !r.Push(ctx, sc.Text()) && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		r.log.Warn("input closed", "err", err)
		return err
	}
	r.log.Debug("input reached EOF")
	return nil
}

// Push queues one line. It reports false when the line was blank or ctx
// ended first.
func (r *Relay) Push(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	// Blank lines are dropped here rather than posted as empty messages.
	if line == "" {
		return false
	}
	select {
	case r.lines <- line:
		return true
	case <-ctx.Done():
		return false
	}
}

// Poll returns the oldest pending line without blocking.
func (r *Relay) Poll() (string, bool) {
	select {
	case line := <-r.lines:
		return line, true
	default:
		return "", false
	}
}
