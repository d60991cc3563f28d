package chat_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"kchat/chat"
	"kchat/kademlia"
)

func startOverlayNode(t *testing.T) *kademlia.Kademlia {
	t.Helper()
	l, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	port := l.LocalAddr().(*net.UDPAddr).Port
	l.Close()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	k, err := kademlia.NewKademlia(kademlia.NewContact(kademlia.NewRandomKademliaID(), addr), "127.0.0.1", port, kademlia.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = k.Close() })
	return k
}

// Two participants on separate overlay nodes see each other's messages.
func TestChatOverOverlay(t *testing.T) {
	ctx := context.Background()
	a := startOverlayNode(t)
	b := startOverlayNode(t)
	if err := b.Bootstrap(ctx, []string{a.Me().Address}); err != nil {
		t.Fatal(err)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	inA := chat.NewRelay(4, quiet)
	var outA, outB bytes.Buffer
	ra := chat.NewReconciler(chat.Config{Store: a, Self: chat.ParticipantID(a.ID()), Name: "alice", Input: inA, Output: &outA, Logger: quiet})
	rb := chat.NewReconciler(chat.Config{Store: b, Self: chat.ParticipantID(b.ID()), Name: "bob", Output: &outB, Logger: quiet})

	inA.Push(ctx, "hello over udp")
	ra.Tick(ctx)
	ra.Tick(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(outB.String(), "alice: hello over udp") {
		if time.Now().After(deadline) {
			t.Fatalf("bob never saw alice's message, output %q", outB.String())
		}
		rb.Tick(ctx)
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.HasPrefix(outB.String(), "--> alice joined\n") {
		t.Fatalf("missing join notice: %q", outB.String())
	}

	// Bob has posted nothing, so alice only learns of him through the table.
	ra.Tick(ctx)
	table, err := chat.FetchTable(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := table[chat.ParticipantID(b.ID())]; !ok || len(table) != 2 {
		t.Fatalf("unexpected table on alice's node: %+v", table)
	}
	if outA.Len() != 0 {
		t.Fatalf("alice printed %q", outA.String())
	}
}
