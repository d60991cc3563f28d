package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"kchat/store"
)

// DefaultInterval is the pause between two ticks.
const DefaultInterval = time.Second

// ReplayOrder selects how a catch-up batch of one peer is displayed.
type ReplayOrder int

const (
	// NewestFirst prints the head first and then its predecessors, in the
	// order they were walked.
	NewestFirst ReplayOrder = iota
	// OldestFirst prints a catch-up batch chronologically.
	OldestFirst
)

func (o ReplayOrder) String() string {
	if o == OldestFirst {
		return "oldest-first"
	}
	return "newest-first"
}

// Input is polled once per tick for a pending local line.
type Input interface {
	Poll() (string, bool)
}

type Config struct {
	Store    store.Store
	Self     ParticipantID
	Name     string
	Input    Input
	Output   io.Writer
	Interval time.Duration
	Order    ReplayOrder
	Logger   *slog.Logger
}

// Reconciler is the tick loop. All of its state is owned by the goroutine
// calling Tick or Run.
type Reconciler struct {
	store    store.Store
	self     ParticipantID
	name     string
	input    Input
	printer  *Printer
	interval time.Duration
	order    ReplayOrder
	log      *slog.Logger

	head    MessageID
	table   SyncTable
	cursors *Cursors
}

func NewReconciler(cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reconciler{
		store:    cfg.Store,
		self:     cfg.Self,
		name:     cfg.Name,
		input:    cfg.Input,
		printer:  NewPrinter(cfg.Output),
		interval: cfg.Interval,
		order:    cfg.Order,
		log:      cfg.Logger.With("self", string(cfg.Self)),
		table:    SyncTable{},
		cursors:  NewCursors(),
	}
}

// Head is the id of the newest local message.
func (r *Reconciler) Head() MessageID {
	return r.head
}

// Run ticks until ctx is cancelled. The interval is measured from the end of
// one tick to the start of the next.
func (r *Reconciler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		r.Tick(ctx)
		timer.Reset(r.interval)
	}
}

// Tick runs one reconciliation round.
func (r *Reconciler) Tick(ctx context.Context) {
	table, err := MergeTable(ctx, r.store, r.table, r.self, r.name, r.head)
	if err != nil {
		r.log.Warn("sync table", "err", err)
	}
	r.table = table

	for _, p := range table.Peers(r.self) {
		if ctx.Err() != nil {
			return
		}
		r.reconcilePeer(ctx, p, table[p])
	}

	r.drainInput(ctx)
}

func (r *Reconciler) reconcilePeer(ctx context.Context, p ParticipantID, rec MemberRecord) {
	head := rec.LastMessage
	if head == "" {
		return
	}
	_, known := r.cursors.Lookup(p)
	if known && !r.cursors.Newer(p, head) {
		return
	}

	msg, err := FetchMessage(ctx, r.store, head)
	if err != nil {
		r.missing(p, head, err)
		return
	}

	var queue []outputLine
	if !known {
		queue = append(queue, outputLine{kind: lineJoined})
		queue = append(queue, outputLine{text: msg.Text})
	} else {
		queue = append(queue, outputLine{text: msg.Text})
		queue = append(queue, r.walk(ctx, p, head, msg.Prev)...)
	}

	r.cursors.Advance(p, head)
	if r.order == OldestFirst {
		reverseText(queue)
	}
	r.printer.flush(rec.Name, queue)
}

// walk follows prev links from next until it reaches the cursor (or anything
// older), a chain start, a repeated id or a missing message.
func (r *Reconciler) walk(ctx context.Context, p ParticipantID, head, next MessageID) []outputLine {
	var out []outputLine
	seen := map[MessageID]struct{}{head: {}}
	for next != "" && r.cursors.Newer(p, next) {
		if _, loop := seen[next]; loop {
			r.log.Warn("message chain loops", "peer", string(p), "id", string(next))
			break
		}
		seen[next] = struct{}{}
		msg, err := FetchMessage(ctx, r.store, next)
		if err != nil {
			r.missing(p, next, err)
			break
		}
		out = append(out, outputLine{text: msg.Text})
		next = msg.Prev
	}
	return out
}

func (r *Reconciler) missing(p ParticipantID, id MessageID, err error) {
	if errors.Is(err, store.ErrNotFound) {
		r.log.Debug("message not available", "peer", string(p), "id", string(id))
		return
	}
	r.log.Warn("fetch message", "peer", string(p), "id", string(id), "err", err)
}

func (r *Reconciler) drainInput(ctx context.Context) {
	if r.input == nil {
		return
	}
	line, ok := r.input.Poll()
	if !ok {
		return
	}
	line = strings.TrimSpace(line)
	// Blank lines are not posted as empty messages.
	if line == "" {
		return
	}
	id, err := PostMessage(ctx, r.store, r.head, line)
	if err != nil {
		r.log.Warn("message dropped", "err", err)
		return
	}
	r.head = id
}

// reverseText reverses the message lines of queue in place, leaving any join
// notice at the front.
func reverseText(queue []outputLine) {
	i := 0
	for i < len(queue) && queue[i].kind == lineJoined {
		i++
	}
	for j := len(queue) - 1; i < j; i, j = i+1, j-1 {
		queue[i], queue[j] = queue[j], queue[i]
	}
}
