package kademlia

import (
	"sync"
)

const bucketSize = 20

// RoutingTable keeps a reference contact of me and one bucket per prefix bit.
type RoutingTable struct {
	me      Contact
	buckets [IDLength * 8]*bucket
	mu      sync.RWMutex
	// Called outside the lock to test liveness of an LRU contact when a bucket is full.
	pingFunc func(Contact) bool
}

// NewRoutingTable returns a new instance of a RoutingTable
func NewRoutingTable(me Contact) *RoutingTable {
	routingTable := &RoutingTable{me: me}
	for i := 0; i < IDLength*8; i++ {
		routingTable.buckets[i] = newBucket()
	}
	return routingTable
}

// SetPingFunc wires a liveness probe used by the eviction policy.
func (routingTable *RoutingTable) SetPingFunc(pf func(Contact) bool) {
	routingTable.mu.Lock()
	routingTable.pingFunc = pf
	routingTable.mu.Unlock()
}

// AddContact records contact as recently seen. When the target bucket is
// full the least-recently seen member is pinged; a live member keeps its slot
// and the newcomer goes to the replacement cache.
func (routingTable *RoutingTable) AddContact(contact Contact) {
	if contact.ID == nil || contact.Address == "" {
		return
	}
	if routingTable.me.ID != nil && routingTable.me.ID.Equals(contact.ID) {
		return
	}

	bucketIndex := routingTable.getBucketIndex(contact.ID)

	// ---- Phase 1: decide under lock (find existing / space / LRU) ----
	routingTable.mu.Lock()
	b := routingTable.buckets[bucketIndex]
	if e := b.find(contact.ID); e != nil {
		// Address may have changed (node restarted on another port).
		e.Value = contact
		b.list.MoveToFront(e)
		routingTable.mu.Unlock()
		return
	}
	if b.list.Len() < bucketSize {
		b.list.PushFront(contact)
		routingTable.mu.Unlock()
		return
	}
	lru := b.list.Back().Value.(Contact)
	pingFunc := routingTable.pingFunc
	routingTable.mu.Unlock()

	// ---- Phase 2: liveness check OUTSIDE the lock ----
	alive := false
	if pingFunc != nil {
		alive = pingFunc(lru)
	}

	// ---- Phase 3: re-acquire and mutate bucket based on liveness ----
	routingTable.mu.Lock()
	defer routingTable.mu.Unlock()
	b = routingTable.buckets[bucketIndex]

	if !alive {
		b.remove(lru.ID)
		switch {
		case b.find(contact.ID) != nil:
		case b.list.Len() < bucketSize:
			b.list.PushFront(contact)
		default:
			b.addReplacement(contact)
		}
		return
	}
	if e := b.find(lru.ID); e != nil {
		b.list.MoveToFront(e)
	}
	b.addReplacement(contact)
}

// RemoveContact drops an unresponsive contact and promotes the most recent
// replacement, if any, into the freed slot.
func (routingTable *RoutingTable) RemoveContact(id *KademliaID) {
	if id == nil {
		return
	}
	routingTable.mu.Lock()
	defer routingTable.mu.Unlock()
	b := routingTable.buckets[routingTable.getBucketIndex(id)]
	if !b.remove(id) {
		return
	}
	if c, ok := b.popReplacement(); ok {
		b.list.PushFront(c)
	}
}

// Len is the number of contacts across all buckets.
func (routingTable *RoutingTable) Len() int {
	routingTable.mu.RLock()
	defer routingTable.mu.RUnlock()
	n := 0
	for _, b := range routingTable.buckets {
		n += b.Len()
	}
	return n
}

// FindClosestContacts finds the count closest Contacts to the target in the RoutingTable
func (routingTable *RoutingTable) FindClosestContacts(target *KademliaID, count int) []Contact {
	routingTable.mu.RLock()
	defer routingTable.mu.RUnlock()
	var candidates ContactCandidates
	bucketIndex := routingTable.getBucketIndex(target)
	bucket := routingTable.buckets[bucketIndex]

	candidates.Append(bucket.GetContactAndCalcDistance(target))

	for i := 1; (bucketIndex-i >= 0 || bucketIndex+i < IDLength*8) && candidates.Len() < count; i++ {
		if bucketIndex-i >= 0 {
			bucket = routingTable.buckets[bucketIndex-i]
			candidates.Append(bucket.GetContactAndCalcDistance(target))
		}
		if bucketIndex+i < IDLength*8 {
			bucket = routingTable.buckets[bucketIndex+i]
			candidates.Append(bucket.GetContactAndCalcDistance(target))
		}
	}

	candidates.Sort()

	if count > candidates.Len() {
		count = candidates.Len()
	}

	return candidates.GetContacts(count)
}

// getBucketIndex get the correct Bucket index for the KademliaID
func (routingTable *RoutingTable) getBucketIndex(id *KademliaID) int {
	distance := id.CalcDistance(routingTable.me.ID)
	for i := 0; i < IDLength; i++ {
		for j := 0; j < 8; j++ {
			if (distance[i]>>uint8(7-j))&0x1 != 0 {
				return i*8 + j
			}
		}
	}

	return IDLength*8 - 1
}
