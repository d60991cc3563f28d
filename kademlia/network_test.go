package kademlia

import (
	"net"
	"strconv"
	"testing"
	"time"
)

// PING/PONG works and both sides learn each other.
func TestPingAddsBothSides(t *testing.T) {
	a, aMe := newNode(t)
	b, bMe := newNode(t)

	if !a.network.PingWait(&bMe, time.Second) {
		t.Fatalf("PingWait: no PONG from %s", bMe.Address)
	}

	ok := waitUntil(t, 2*time.Second, func() bool {
		return hasContactWithAddress(a, bMe.Address) && hasContactWithAddress(b, aMe.Address)
	})
	if !ok {
		t.Fatalf("PING failed to populate routing tables: A hasB=%v, B hasA=%v",
			hasContactWithAddress(a, bMe.Address), hasContactWithAddress(b, aMe.Address))
	}
}

// A bootstrap contact with no ID is learned under the ID its PONG carries.
func TestJoinLearnsBootstrapID(t *testing.T) {
	a, _ := newNode(t)
	_, bMe := newNode(t)

	if err := a.Join(&Contact{Address: bMe.Address}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	got := a.ClosestContacts(bMe.ID, 1)
	if len(got) != 1 || !got[0].ID.Equals(bMe.ID) {
		t.Fatalf("expected bootstrap learned under its real id %s, got %v", bMe.ID, got)
	}
}

func TestJoinFailsOnSilentBootstrap(t *testing.T) {
	a, _ := newNode(t)
	dead := Contact{Address: net.JoinHostPort("127.0.0.1", strconv.Itoa(freeUDPPort(t)))}
	if err := a.Join(&dead); err == nil {
		t.Fatalf("Join to a silent address should fail")
	}
	if a.Contacts() != 0 {
		t.Fatalf("silent bootstrap must not be added, have %d contacts", a.Contacts())
	}
}

// Build a small multi-node network and verify A can lookup B via FIND_NODE.
func TestLookupFindsTargetInSmallNetwork(t *testing.T) {
	nodes, contacts := cluster(t, 8)

	target := contacts[len(contacts)-1]
	origin := nodes[1]

	found := origin.LookupContact(&target)

	if !waitUntil(t, 3*time.Second, func() bool { return hasContactWithAddress(origin, target.Address) }) {
		t.Fatalf("LookupContact failed to discover target %s in origin's routing table", target.Address)
	}
	if len(found) == 0 || !found[0].ID.Equals(target.ID) {
		t.Fatalf("expected target first in lookup result, got %v", found)
	}
}

// FIND_NODE adds the responder and its returned contacts to the routing table.
func TestFindNodePopulatesDiscoveredContacts(t *testing.T) {
	a, aMe := newNode(t)
	b, bMe := newNode(t)
	c, cMe := newNode(t)

	a.network.SendPingMessage(&bMe)
	c.network.SendPingMessage(&bMe)

	ok := waitUntil(t, 2*time.Second, func() bool {
		return hasContactWithAddress(a, bMe.Address) &&
			hasContactWithAddress(c, bMe.Address) &&
			hasContactWithAddress(b, aMe.Address) &&
			hasContactWithAddress(b, cMe.Address)
	})
	if !ok {
		t.Fatalf("Initial pings failed to populate via B")
	}

	a.LookupContact(&cMe)

	if !waitUntil(t, 2*time.Second, func() bool { return hasContactWithAddress(a, cMe.Address) }) {
		t.Fatalf("A did not learn C via FIND_NODE; A has %d peers", a.Contacts())
	}
}

// Unresponsive peer: PING times out and the peer is NOT added.
func TestUnresponsivePeerDoesNotGetAdded(t *testing.T) {
	a, _ := newNode(t)

	dead := NewContact(NewRandomKademliaID(), net.JoinHostPort("127.0.0.1", strconv.Itoa(freeUDPPort(t))))

	start := time.Now()
	a.network.SendPingMessage(&dead)
	elapsed := time.Since(start)
	if hasContactWithAddress(a, dead.Address) {
		t.Fatalf("Unresponsive peer should not be added to routing table")
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Ping timeout took too long: %v", elapsed)
	}
}

// A lookup-style RPC that times out drops the peer from the routing table.
func TestTimedOutPeerIsForgotten(t *testing.T) {
	a, _ := newNode(t)
	b, bMe := newNode(t)

	a.network.SendPingMessage(&bMe)
	if !hasContactWithAddress(a, bMe.Address) {
		t.Fatalf("setup: A should know B")
	}
	_ = b.Close()

	if _, err := a.network.SendFindContactMessageTo(&bMe, &bMe); err == nil {
		t.Fatalf("FIND_NODE to a closed node should time out")
	}
	if hasContactWithAddress(a, bMe.Address) {
		t.Fatalf("timed-out peer should be removed from the routing table")
	}
}

// Isolated node: LookupContact must not panic or hang when there are no candidates.
func TestLookupOnIsolatedNodeNoPanic(t *testing.T) {
	a, _ := newNode(t)
	target := NewContact(NewRandomKademliaID(), "")

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.LookupContact(&target)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("LookupContact on isolated node hung")
	}
}

func TestReachableAddressReplacesUnspecifiedHost(t *testing.T) {
	src := &net.UDPAddr{IP: net.ParseIP("10.1.2.3"), Port: 5555}
	cases := map[string]string{
		"0.0.0.0:8401":   "10.1.2.3:8401",
		"[::]:8401":      "10.1.2.3:8401",
		":8401":          "10.1.2.3:8401",
		"127.0.0.1:8401": "127.0.0.1:8401",
		"garbage":        "10.1.2.3:5555",
	}
	for in, want := range cases {
		if got := reachableAddress(in, src); got != want {
			t.Errorf("reachableAddress(%q) = %q want %q", in, got, want)
		}
	}
}
