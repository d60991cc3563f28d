package chat

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"kchat/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testPeer plays a remote participant writing straight into the store.
type testPeer struct {
	id   ParticipantID
	name string
	head MessageID
}

func (p *testPeer) say(t *testing.T, st store.Store, text string) MessageID {
	t.Helper()
	id, err := PostMessage(context.Background(), st, p.head, text)
	if err != nil {
		t.Fatalf("post %q: %v", text, err)
	}
	p.head = id
	return id
}

func (p *testPeer) publish(t *testing.T, st store.Store) {
	t.Helper()
	if _, err := MergeTable(context.Background(), st, nil, p.id, p.name, p.head); err != nil {
		t.Fatalf("publish %s: %v", p.id, err)
	}
}

func newTestReconciler(st store.Store, self ParticipantID, name string, in Input, order ReplayOrder) (*Reconciler, *bytes.Buffer) {
	var out bytes.Buffer
	r := NewReconciler(Config{
		Store:  st,
		Self:   self,
		Name:   name,
		Input:  in,
		Output: &out,
		Order:  order,
		Logger: quietLogger(),
	})
	return r, &out
}

// takeOutput returns everything printed since the last call.
func takeOutput(out *bytes.Buffer) string {
	s := out.String()
	out.Reset()
	return s
}
