package kademlia

import (
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"
)

// --------- test helpers ---------

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	l, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer l.Close()
	return l.LocalAddr().(*net.UDPAddr).Port
}

// newNode spins up a single node bound to 127.0.0.1:<free-port>.
func newNode(t *testing.T, opts ...Option) (*Kademlia, Contact) {
	t.Helper()
	ip := "127.0.0.1"
	port := freeUDPPort(t)
	me := NewContact(NewRandomKademliaID(), net.JoinHostPort(ip, strconv.Itoa(port)))

	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	k, err := NewKademlia(me, ip, port, opts...)
	if err != nil {
		t.Fatalf("NewKademlia: %v", err)
	}
	t.Cleanup(func() { _ = k.Close() })
	return k, me
}

// cluster creates n nodes, uses node[0] as bootstrap, and joins the rest.
func cluster(t *testing.T, n int) ([]*Kademlia, []Contact) {
	t.Helper()
	nodes := make([]*Kademlia, 0, n)
	contacts := make([]Contact, 0, n)
	for i := 0; i < n; i++ {
		k, me := newNode(t)
		nodes = append(nodes, k)
		contacts = append(contacts, me)
	}
	bootstrap := Contact{Address: contacts[0].Address}
	for i := 1; i < len(nodes); i++ {
		if err := nodes[i].Join(&bootstrap); err != nil {
			t.Fatalf("Join node %d: %v", i, err)
		}
	}
	// Give the UDP traffic a brief moment to settle on localhost.
	time.Sleep(150 * time.Millisecond)
	return nodes, contacts
}

func waitUntil(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func hasContactWithAddress(k *Kademlia, addr string) bool {
	var zero KademliaID
	for _, c := range k.routingTable.FindClosestContacts(&zero, 100000) {
		if c.Address == addr {
			return true
		}
	}
	return false
}

func hasLocal(k *Kademlia, key string) bool {
	_, ok := k.loadLocal(key)
	return ok
}
