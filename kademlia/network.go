package kademlia

// network.go: UDP transport + RPC handlers (PING, FIND_NODE, STORE, FIND_VALUE)

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// maxDatagram bounds both the read buffer and what Set accepts.
const maxDatagram = 64 * 1024

// Network provides UDP-based request/response for the overlay RPCs.
type Network struct {
	conn        *net.UDPConn
	kademlia    *Kademlia
	mu          sync.Mutex
	inflight    map[string]chan envelope // msgID -> response chan
	readStopped chan struct{}
}

// NewNetwork binds ip:port and starts the read loop.
func NewNetwork(k *Kademlia, ip string, port int) (*Network, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	n := &Network{
		conn:        conn,
		kademlia:    k,
		inflight:    make(map[string]chan envelope),
		readStopped: make(chan struct{}),
	}
	go n.readLoop()
	return n, nil
}

// LocalAddr is the bound socket address (useful when port 0 was requested).
func (network *Network) LocalAddr() *net.UDPAddr {
	return network.conn.LocalAddr().(*net.UDPAddr)
}

func (network *Network) Close() error {
	err := network.conn.Close()
	select {
	case <-network.readStopped:
	case <-time.After(200 * time.Millisecond):
	}
	return err
}

func (network *Network) nextMsgID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (network *Network) send(to *net.UDPAddr, env envelope) error {
	b, err := env.marshal()
	if err != nil {
		return err
	}
	if len(b) > maxDatagram {
		return fmt.Errorf("%s message too large: %d bytes", env.Type, len(b))
	}
	_, err = network.conn.WriteToUDP(b, to)
	return err
}

func (network *Network) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, src, err := network.conn.ReadFromUDP(buf)
		if err != nil {
			close(network.readStopped)
			return
		}
		var env envelope
		if err := env.unmarshal(buf[:n]); err != nil {
			network.kademlia.log.Debug("dropping undecodable datagram", "from", src, "err", err)
			continue
		}

		// Response path: deliver to waiter
		if env.Type.isResponse() {
			network.mu.Lock()
			ch := network.inflight[env.MsgID]
			network.mu.Unlock()
			if ch != nil {
				select {
				case ch <- env:
				default:
				}
			}
			continue
		}

		// Handlers may ping (bucket eviction) and so must not block the reader.
		go network.dispatch(env, src)
	}
}

func (network *Network) dispatch(env envelope, src *net.UDPAddr) {
	if contact, err := env.From.toContact(); err == nil {
		contact.Address = reachableAddress(contact.Address, src)
		network.kademlia.routingTable.AddContact(contact)
	}
	switch env.Type {
	case msgPing:
		network.handlePing(env, src)
	case msgFindNode:
		network.handleFindNode(env, src)
	case msgStore:
		network.handleStore(env, src)
	case msgFindValue:
		network.handleFindValue(env, src)
	default:
		// ignore unknown types
	}
}

// reachableAddress swaps an unspecified advertised host (0.0.0.0, ::) for the
// datagram's source IP, keeping the advertised port.
func reachableAddress(advertised string, src *net.UDPAddr) string {
	host, port, err := net.SplitHostPort(advertised)
	if err != nil {
		return src.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		return net.JoinHostPort(src.IP.String(), port)
	}
	return advertised
}

func (network *Network) reply(src *net.UDPAddr, req envelope, resp envelope) {
	resp.From = fromContact(network.kademlia.me)
	resp.MsgID = req.MsgID // echo the request ID back
	if err := network.send(src, resp); err != nil {
		network.kademlia.log.Debug("reply failed", "type", resp.Type, "to", src, "err", err)
	}
}

// PING handler -> PONG
func (network *Network) handlePing(env envelope, src *net.UDPAddr) {
	network.reply(src, env, envelope{Type: msgPong})
}

// FIND_NODE handler -> FIND_NODE_OK
func (network *Network) handleFindNode(env envelope, src *net.UDPAddr) {
	target, err := ParseKademliaID(env.TargetID)
	if err != nil {
		return
	}
	contacts := network.kademlia.routingTable.FindClosestContacts(target, bucketSize)
	network.reply(src, env, envelope{Type: msgFindNodeOK, Contacts: toWire(contacts)})
}

// STORE handler -> STORE_OK. Older stamps are acknowledged but not kept.
func (network *Network) handleStore(env envelope, src *net.UDPAddr) {
	if env.Key == "" {
		return
	}
	accepted := network.kademlia.storeLocal(env.Key, env.record())
	network.kademlia.log.Debug("store", "key", env.Key, "from", src, "len", len(env.Value), "accepted", accepted)
	network.reply(src, env, envelope{Type: msgStoreOK, Key: env.Key})
}

// FIND_VALUE handler -> FIND_VALUE_OK with either the record or closer contacts.
func (network *Network) handleFindValue(env envelope, src *net.UDPAddr) {
	if env.Key == "" {
		return
	}
	resp := envelope{Type: msgFindValueOK, Key: env.Key}
	if rec, ok := network.kademlia.loadLocal(env.Key); ok {
		resp.Found = true
		resp.Value = rec.Value
		resp.Stamp = rec.Stamp
	} else {
		contacts := network.kademlia.routingTable.FindClosestContacts(KeyID(env.Key), bucketSize)
		resp.Contacts = toWire(contacts)
	}
	network.reply(src, env, resp)
}

func toWire(contacts []Contact) []wireContact {
	out := make([]wireContact, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, fromContact(c))
	}
	return out
}

// request sends env to peer and waits for the matching response. The
// responder is learned under the address we actually reached it on.
func (network *Network) request(peer *Contact, env envelope, timeout time.Duration) (envelope, error) {
	if peer == nil || peer.Address == "" {
		return envelope{}, errors.New("bad args")
	}
	dst, err := net.ResolveUDPAddr("udp", peer.Address)
	if err != nil {
		return envelope{}, err
	}
	env.From = fromContact(network.kademlia.me)
	env.MsgID = network.nextMsgID()

	ch := make(chan envelope, 1)
	network.mu.Lock()
	network.inflight[env.MsgID] = ch
	network.mu.Unlock()
	defer func() {
		network.mu.Lock()
		delete(network.inflight, env.MsgID)
		network.mu.Unlock()
	}()

	if err := network.send(dst, env); err != nil {
		return envelope{}, err
	}

	select {
	case resp := <-ch:
		if c, err := resp.From.toContact(); err == nil {
			c.Address = peer.Address
			network.kademlia.routingTable.AddContact(c)
		}
		return resp, nil
	case <-time.After(timeout):
		return envelope{}, context.DeadlineExceeded
	}
}

// forget drops a peer that failed to answer a lookup-style RPC.
func (network *Network) forget(peer *Contact, err error) {
	if errors.Is(err, context.DeadlineExceeded) && peer.ID != nil {
		network.kademlia.routingTable.RemoveContact(peer.ID)
	}
}

// SendPingMessage sends a PING to the given peer and waits for PONG.
func (network *Network) SendPingMessage(contact *Contact) {
	network.PingWait(contact, network.kademlia.timeoutRPC)
}

// PingWait reports whether contact answered a PING within timeout.
func (network *Network) PingWait(contact *Contact, timeout time.Duration) bool {
	resp, err := network.request(contact, envelope{Type: msgPing}, timeout)
	return err == nil && resp.Type == msgPong
}

// SendFindContactMessageTo asks peer for the nodes it knows closest to target.
func (network *Network) SendFindContactMessageTo(peer *Contact, target *Contact) ([]Contact, error) {
	if target == nil || target.ID == nil {
		return nil, errors.New("bad args")
	}
	resp, err := network.request(peer, envelope{Type: msgFindNode, TargetID: target.ID.String()}, network.kademlia.timeoutRPC)
	if err != nil {
		network.forget(peer, err)
		return nil, err
	}
	if resp.Type != msgFindNodeOK {
		return nil, fmt.Errorf("unexpected resp: %s", resp.Type)
	}
	return network.learnAll(resp.Contacts), nil
}

// sendStoreTo asks peer to keep rec under key.
func (network *Network) sendStoreTo(peer *Contact, key string, rec Record, timeout time.Duration) error {
	env := envelope{Type: msgStore, Key: key, Value: rec.Value, Stamp: rec.Stamp}
	resp, err := network.request(peer, env, timeout)
	if err != nil {
		network.forget(peer, err)
		return err
	}
	if resp.Type != msgStoreOK {
		return fmt.Errorf("unexpected resp: %s", resp.Type)
	}
	return nil
}

// sendFindValueTo asks peer for key. A nil record means the peer did not hold
// it and returned (and we learned) closer contacts instead.
func (network *Network) sendFindValueTo(peer *Contact, key string, timeout time.Duration) (*Record, []Contact, error) {
	resp, err := network.request(peer, envelope{Type: msgFindValue, Key: key}, timeout)
	if err != nil {
		network.forget(peer, err)
		return nil, nil, err
	}
	if resp.Type != msgFindValueOK {
		return nil, nil, fmt.Errorf("unexpected resp: %s", resp.Type)
	}
	if resp.Found {
		rec := resp.record()
		return &rec, nil, nil
	}
	return nil, network.learnAll(resp.Contacts), nil
}

func (network *Network) learnAll(wcs []wireContact) []Contact {
	contacts := make([]Contact, 0, len(wcs))
	for _, wc := range wcs {
		c, err := wc.toContact()
		if err != nil {
			continue
		}
		contacts = append(contacts, c)
		network.kademlia.routingTable.AddContact(c)
	}
	return contacts
}
