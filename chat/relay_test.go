package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRelayFeedDropsBlankLines(t *testing.T) {
	r := NewRelay(8, quietLogger())
	if err := r.Feed(context.Background(), strings.NewReader("a\n\n   \n b \n")); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"a", "b"} {
		got, ok := r.Poll()
		if !ok || got != want {
			t.Fatalf("got %q,%v want %q", got, ok, want)
		}
	}
	if line, ok := r.Poll(); ok {
		t.Fatalf("unexpected extra line %q", line)
	}
}

func TestRelayPollDoesNotBlock(t *testing.T) {
	r := NewRelay(1, quietLogger())
	if _, ok := r.Poll(); ok {
		t.Fatal("poll on empty relay returned a line")
	}
}

func TestRelayFeedStopsWhenFullAndCancelled(t *testing.T) {
	r := NewRelay(1, quietLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.Feed(ctx, strings.NewReader("one\ntwo\n"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if got, ok := r.Poll(); !ok || got != "one" {
		t.Fatalf("got %q,%v", got, ok)
	}
}

func TestCursorsAdvanceOnlyForward(t *testing.T) {
	h1, h2, h3 := NewMessageID(), NewMessageID(), NewMessageID()
	c := NewCursors()
	if !c.Advance("x", h1) {
		t.Fatal("first advance refused")
	}
	if !c.Advance("x", h3) {
		t.Fatal("advance to newer head refused")
	}
	if c.Advance("x", h1) || c.Advance("x", h2) || c.Advance("x", h3) {
		t.Fatal("cursor moved to a head at or before it")
	}
	if cur, _ := c.Lookup("x"); cur != h3 {
		t.Fatalf("cursor %q, want %q", cur, h3)
	}
	if !c.Newer("y", h1) {
		t.Fatal("unknown peer should accept any head")
	}
}
