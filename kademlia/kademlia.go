package kademlia

// kademlia.go: node state, Join, iterative FIND_NODE and the key-value API

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kchat/store"
)

// maxValueSize keeps a STORE envelope (base64 payload) inside one datagram.
const maxValueSize = 32 * 1024

var (
	ErrInvalidKey = errors.New("kademlia: invalid key")
	ErrJoinFailed = errors.New("kademlia: join failed")
)

// Kademlia is one overlay node. It satisfies store.Store: keys are arbitrary
// strings placed at the K nodes closest to sha1(key), and concurrent writers
// to one key resolve by last-write-wins on the writer's stamp.
type Kademlia struct {
	me           Contact
	routingTable *RoutingTable
	network      *Network

	alpha      int
	timeoutRPC time.Duration
	log        *slog.Logger
	now        func() time.Time

	values Storage

	// Keys we ORIGINATED via Set(); only those are periodically republished.
	originMu   sync.RWMutex
	originKeys map[string]struct{}
	// Cooperative stop for the republisher goroutine.
	republishStop     chan struct{}
	republishInterval time.Duration
	closeOnce         sync.Once
}

var _ store.Store = (*Kademlia)(nil)

// Option customises a node at construction.
type Option func(*Kademlia)

// WithStorage replaces the in-memory replica store (e.g. with BoltStorage).
// The node takes ownership and closes it on Close.
func WithStorage(s Storage) Option {
	return func(k *Kademlia) { k.values = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(k *Kademlia) {
		if l != nil {
			k.log = l
		}
	}
}

func WithRepublishInterval(d time.Duration) Option {
	return func(k *Kademlia) { k.republishInterval = d }
}

// NewKademlia creates a node bound to ip:port.
func NewKademlia(me Contact, ip string, port int, opts ...Option) (*Kademlia, error) {
	kademlia := &Kademlia{
		me:            me,
		alpha:         3,
		timeoutRPC:    800 * time.Millisecond,
		log:           slog.Default(),
		now:           time.Now,
		originKeys:    make(map[string]struct{}),
		republishStop: make(chan struct{}),
		// Kademlia paper uses ~24h; chat state churns far faster.
		republishInterval: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(kademlia)
	}
	if kademlia.values == nil {
		kademlia.values = NewMemoryStorage()
	}
	kademlia.routingTable = NewRoutingTable(me)

	netw, err := NewNetwork(kademlia, ip, port)
	if err != nil {
		return nil, err
	}
	kademlia.network = netw
	// LRU-eviction liveness probe: ping with the same timeout used elsewhere.
	kademlia.routingTable.SetPingFunc(func(c Contact) bool {
		return kademlia.network.PingWait(&c, kademlia.timeoutRPC)
	})
	go kademlia.republisher()
	return kademlia, nil
}

// Close stops the republisher, the socket and the replica store.
func (kademlia *Kademlia) Close() error {
	var err error
	kademlia.closeOnce.Do(func() {
		close(kademlia.republishStop)
		err = errors.Join(kademlia.network.Close(), kademlia.values.Close())
	})
	return err
}

// ID is the hex node id; the chat layer uses it as the participant id.
func (kademlia *Kademlia) ID() string {
	return kademlia.me.ID.String()
}

func (kademlia *Kademlia) Me() Contact {
	return kademlia.me
}

// Contacts is the current routing table size.
func (kademlia *Kademlia) Contacts() int {
	return kademlia.routingTable.Len()
}

// Join the network via a known bootstrap node. The bootstrap's ID may be
// unknown; it is learned from the PONG.
// 1) PING the bootstrap (must answer)
// 2) Iterative lookup for our own ID to populate routing table
func (kademlia *Kademlia) Join(bootstrap *Contact) error {
	if bootstrap == nil || bootstrap.Address == "" {
		return fmt.Errorf("%w: invalid bootstrap", ErrJoinFailed)
	}
	if !kademlia.network.PingWait(bootstrap, kademlia.timeoutRPC) {
		return fmt.Errorf("%w: %s did not answer", ErrJoinFailed, bootstrap.Address)
	}
	self := Contact{ID: kademlia.me.ID}
	kademlia.LookupContact(&self)
	kademlia.log.Debug("joined", "bootstrap", bootstrap.Address, "contacts", kademlia.Contacts())
	return nil
}

// LookupContact performs an iterative node lookup for target.ID, learning
// contacts into the routing table, and returns the K closest it ends with.
func (kademlia *Kademlia) LookupContact(target *Contact) []Contact {
	return kademlia.lookup(context.Background(), target)
}

// lookup is LookupContact bounded by ctx: once ctx ends it stops waiting for
// the round in flight and returns what it has.
func (kademlia *Kademlia) lookup(ctx context.Context, target *Contact) []Contact {
	if target == nil || target.ID == nil {
		return nil
	}
	visited := make(map[string]struct{})
	var lastBest *KademliaID

	for ctx.Err() == nil {
		batch := kademlia.nextBatch(target.ID, visited)
		if len(batch) == 0 {
			break
		}

		done := make(chan struct{}, len(batch))
		for i := range batch {
			go func(peer Contact) {
				// Ask "peer" for contacts close to "target"
				_, _ = kademlia.network.SendFindContactMessageTo(&peer, target)
				done <- struct{}{}
			}(batch[i])
		}
		if !waitAll(ctx, done, len(batch)) {
			break
		}

		if !kademlia.improved(target.ID, &lastBest) {
			break
		}
	}

	final := kademlia.routingTable.FindClosestContacts(target.ID, bucketSize)
	sortByDistance(final, target.ID)
	return final
}

// waitAll waits for n signals on done. It reports false if ctx ended first.
func waitAll(ctx context.Context, done <-chan struct{}, n int) bool {
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// nextBatch selects the next alpha unvisited peers closest to target.
func (kademlia *Kademlia) nextBatch(target *KademliaID, visited map[string]struct{}) []Contact {
	candidates := kademlia.routingTable.FindClosestContacts(target, 1024)
	batch := make([]Contact, 0, kademlia.alpha)
	for _, contact := range candidates {
		if len(batch) >= kademlia.alpha {
			break
		}
		if contact.Address == "" {
			continue
		}
		if _, seen := visited[contact.Address]; seen {
			continue
		}
		visited[contact.Address] = struct{}{}
		batch = append(batch, contact)
	}
	return batch
}

// improved is the convergence check: false once the best known contact
// stops getting closer to target.
func (kademlia *Kademlia) improved(target *KademliaID, lastBest **KademliaID) bool {
	closestNow := kademlia.routingTable.FindClosestContacts(target, 1)
	if len(closestNow) == 0 {
		return false
	}
	best := closestNow[0].ID
	if *lastBest != nil && !best.CalcDistance(target).Less((*lastBest).CalcDistance(target)) {
		return false
	}
	*lastBest = best
	return true
}

// ClosestContacts returns up to 'count' closest contacts to 'target' from this node's view.
func (kademlia *Kademlia) ClosestContacts(target *KademliaID, count int) []Contact {
	return kademlia.routingTable.FindClosestContacts(target, count)
}

// ---- local replica helpers ----

func (kademlia *Kademlia) storeLocal(key string, rec Record) bool {
	accepted, err := kademlia.values.Save(key, rec)
	if err != nil {
		kademlia.log.Warn("local store failed", "key", key, "err", err)
	}
	return accepted
}

func (kademlia *Kademlia) loadLocal(key string) (Record, bool) {
	rec, ok, err := kademlia.values.Load(key)
	if err != nil {
		kademlia.log.Warn("local load failed", "key", key, "err", err)
		return Record{}, false
	}
	return rec, ok
}

// ---- public key-value API ----

// Set stores value under key locally, then replicates it to the K closest
// nodes. Replication is best effort: unreachable replicas are not an error.
func (kademlia *Kademlia) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if len(value) > maxValueSize {
		return fmt.Errorf("value for %q is %d bytes, limit %d", key, len(value), maxValueSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := Record{Value: value, Stamp: kademlia.now().UnixNano()}

	// Always store at the origin immediately.
	kademlia.storeLocal(key, rec)
	kademlia.log.Debug("set", "key", key, "me", kademlia.me.Address, "len", len(value))

	kademlia.originMu.Lock()
	kademlia.originKeys[key] = struct{}{}
	kademlia.originMu.Unlock()

	kademlia.replicateToClosest(ctx, key, rec)
	return nil
}

// Put stores data under its own SHA-1 and returns that key (40 hex).
func (kademlia *Kademlia) Put(data []byte) (string, error) {
	sum := sha1.Sum(data)
	keyHex := hex.EncodeToString(sum[:])
	return keyHex, kademlia.Set(context.Background(), keyHex, data)
}

// Get returns the newest value for key visible from this node.
func (kademlia *Kademlia) Get(ctx context.Context, key string) ([]byte, error) {
	v, _, err := kademlia.Find(ctx, key)
	return v, err
}

// Find performs an iterative FIND_VALUE lookup and returns the newest value
// seen (network or local) and the contact that supplied it. A value fetched
// from the network is cached locally.
func (kademlia *Kademlia) Find(ctx context.Context, key string) ([]byte, *Contact, error) {
	if key == "" {
		return nil, nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	local, hasLocal := kademlia.loadLocal(key)

	rec, src, found := kademlia.findValue(ctx, key)
	if found && (!hasLocal || rec.Stamp > local.Stamp) {
		kademlia.storeLocal(key, rec)
		kademlia.log.Debug("get", "key", key, "from", src.Address, "len", len(rec.Value))
		return rec.Value, src, nil
	}
	if hasLocal {
		me := kademlia.me
		kademlia.log.Debug("get", "key", key, "from", "local", "len", len(local.Value))
		return local.Value, &me, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return nil, nil, fmt.Errorf("%q: %w", key, store.ErrNotFound)
}

func (kademlia *Kademlia) findValue(ctx context.Context, key string) (Record, *Contact, bool) {
	keyID := KeyID(key)
	visited := make(map[string]struct{})
	// Track which peers we actually queried (for path caching later).
	queried := make([]Contact, 0, 64)
	var lastBest *KademliaID

	for ctx.Err() == nil {
		batch := kademlia.nextBatch(keyID, visited)
		if len(batch) == 0 {
			break
		}
		queried = append(queried, batch...)

		type res struct {
			rec  *Record
			from Contact
		}
		ch := make(chan res, len(batch))
		for i := range batch {
			go func(p Contact) {
				rec, _, err := kademlia.network.sendFindValueTo(&p, key, kademlia.timeoutRPC)
				if err != nil {
					rec = nil
				}
				ch <- res{rec: rec, from: p}
			}(batch[i])
		}

		var (
			best    *Record
			src     Contact
			holders = make(map[string]struct{})
		)
		for range batch {
			r := <-ch
			if r.rec == nil {
				continue
			}
			holders[r.from.Address] = struct{}{}
			if best == nil || r.rec.Stamp > best.Stamp {
				best, src = r.rec, r.from
			}
		}
		if best != nil {
			kademlia.pathCache(key, keyID, *best, queried, holders)
			return *best, &src, true
		}

		if !kademlia.improved(keyID, &lastBest) {
			break
		}
	}
	return Record{}, nil, false
}

// pathCache stores rec at the closest node we queried that did not have it,
// seeding the key's region even if the publisher has not republished yet.
func (kademlia *Kademlia) pathCache(key string, keyID *KademliaID, rec Record, queried []Contact, holders map[string]struct{}) {
	var best *Contact
	for i := range queried {
		q := &queried[i]
		if _, has := holders[q.Address]; has || q.Address == kademlia.me.Address {
			continue
		}
		if best == nil || q.ID.CalcDistance(keyID).Less(best.ID.CalcDistance(keyID)) {
			best = q
		}
	}
	if best == nil {
		return
	}
	target := *best
	go func() {
		if err := kademlia.network.sendStoreTo(&target, key, rec, kademlia.timeoutRPC); err == nil {
			kademlia.log.Debug("path-cache", "key", key, "to", target.Address)
		}
	}()
}

// replicateToClosest finds the CURRENT K closest nodes to key and sends STORE.
// Shared by Set() (initial placement) and the periodic republisher. Nothing is
// sent once ctx has ended.
func (kademlia *Kademlia) replicateToClosest(ctx context.Context, key string, rec Record) {
	keyID := KeyID(key)
	// Refresh view of the network around this key to avoid stale placement.
	contacts := kademlia.lookup(ctx, &Contact{ID: keyID})
	if ctx.Err() != nil {
		kademlia.log.Debug("replicate abandoned", "key", key, "err", ctx.Err())
		return
	}

	var wg sync.WaitGroup
	for i := range contacts {
		c := contacts[i]
		if c.ID.Equals(kademlia.me.ID) {
			continue // we already stored locally
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Timeouts are tolerated; the republisher tries again later.
			if err := kademlia.network.sendStoreTo(&c, key, rec, kademlia.timeoutRPC); err != nil {
				kademlia.log.Debug("replicate failed", "key", key, "to", c.Address, "err", err)
			}
		}()
	}
	wg.Wait()
	kademlia.log.Debug("replicate", "key", key, "me", kademlia.me.Address, "replicas", len(contacts))
}

// republisher ticks until Close and republishes origin keys to the CURRENT
// K closest peers, so newly joined closer nodes receive them.
func (kademlia *Kademlia) republisher() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-kademlia.republishStop
		cancel()
	}()

	ticker := time.NewTicker(kademlia.republishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			kademlia.republishOwnedKeys(ctx)
		case <-kademlia.republishStop:
			return
		}
	}
}

func (kademlia *Kademlia) republishOwnedKeys(ctx context.Context) {
	kademlia.originMu.RLock()
	keys := make([]string, 0, len(kademlia.originKeys))
	for k := range kademlia.originKeys {
		keys = append(keys, k)
	}
	kademlia.originMu.RUnlock()

	for _, key := range keys {
		// The held record may be newer than ours (another writer); its
		// original stamp travels with it so replicas keep the right winner.
		rec, ok := kademlia.loadLocal(key)
		if !ok {
			continue
		}
		kademlia.replicateToClosest(ctx, key, rec)
	}
}
