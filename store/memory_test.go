package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_GetMissingIsNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_SetThenGetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	in := []byte("hello")
	if err := m.Set(ctx, "k", in); err != nil {
		t.Fatalf("Set: %v", err)
	}
	in[0] = 'j' // caller mutation must not leak into the store

	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q want %q", got, "hello")
	}
	got[0] = 'x'
	again, _ := m.Get(ctx, "k")
	if string(again) != "hello" {
		t.Fatalf("returned slice aliases stored value: %q", again)
	}
}

func TestMemory_LastWriteWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Set(ctx, "k", []byte("one"))
	_ = m.Set(ctx, "k", []byte("two"))
	got, _ := m.Get(ctx, "k")
	if string(got) != "two" {
		t.Fatalf("got %q want %q", got, "two")
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 key, got %d", m.Len())
	}
}

func TestMemory_DeleteAndCancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	_ = m.Set(ctx, "k", []byte("v"))
	m.Delete("k")
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after Delete, got %v", err)
	}
	cancel()
	if err := m.Set(ctx, "k", []byte("v")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
