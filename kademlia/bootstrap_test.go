package kademlia

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"
)

func TestBootstrap_NoSeedsStartsNewNetwork(t *testing.T) {
	a, _ := newNode(t)
	if err := a.Bootstrap(context.Background(), nil); err != nil {
		t.Fatalf("Bootstrap(nil): %v", err)
	}
}

func TestBootstrap_SkipsDeadSeedAndJoinsLiveOne(t *testing.T) {
	a, _ := newNode(t)
	_, bMe := newNode(t)
	dead := net.JoinHostPort("127.0.0.1", strconv.Itoa(freeUDPPort(t)))

	if err := a.Bootstrap(context.Background(), []string{dead, bMe.Address}); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !hasContactWithAddress(a, bMe.Address) {
		t.Fatalf("expected the live seed in the routing table")
	}
}

func TestBootstrap_FailsWhenNoSeedAnswers(t *testing.T) {
	a, _ := newNode(t)
	dead := net.JoinHostPort("127.0.0.1", strconv.Itoa(freeUDPPort(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err := a.Bootstrap(ctx, []string{dead})
	if !errors.Is(err, ErrJoinFailed) {
		t.Fatalf("expected ErrJoinFailed, got %v", err)
	}
}

func TestBootstrap_HonoursCancelledContext(t *testing.T) {
	a, _ := newNode(t)
	dead := net.JoinHostPort("127.0.0.1", strconv.Itoa(freeUDPPort(t)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Bootstrap(ctx, []string{dead}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
