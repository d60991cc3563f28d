// Package kademlia is the overlay the chat runs on: a Kademlia DHT over UDP
// that exposes a string-keyed, last-write-wins key-value store.
//
// Network formation
// -----------------
//   - PING/PONG with request/response book-keeping keyed by msg_id.
//     Every request teaches the receiver the sender; every response teaches
//     the requester the responder (under the address it was reached on).
//   - Join(bootstrap): PING the bootstrap (its ID may be unknown, the PONG
//     carries it), then iterative FIND_NODE on our own ID.
//   - Bootstrap(ctx, seeds) retries Join across a seed list with exponential
//     backoff and fails with ErrJoinFailed.
//   - LookupContact: alpha-parallel iterative search, stops when the best
//     distance no longer improves. Peers that time out are dropped and the
//     bucket's replacement cache refills the slot.
//
// Values
// ------
//   - Keys are arbitrary strings placed at sha1(key). Each record carries the
//     writer's stamp (unix nanos); replicas keep the newest.
//   - Set(ctx, key, value): store locally, replicate to the K closest nodes
//     (K = bucketSize), remember the key for the republisher.
//   - Get/Find(ctx, key): iterative FIND_VALUE; the first round returning
//     values picks the newest, which is compared with the local copy, cached,
//     and path-cached at the closest queried node that lacked it.
//   - Put(data) is the content-addressed form: key = hex(sha1(data)).
//   - Storage is pluggable: MemoryStorage (default) or BoltStorage.
//
// Layout
// ------
//
//	kademlia.go      Node state, Join, LookupContact, Set/Get/Find, republisher
//	bootstrap.go     Seed-list join with backoff
//	network.go       UDP transport and RPC handlers
//	wire.go          On-wire envelope
//	storage.go       Record, MemoryStorage, BoltStorage
//	routingtable.go  Routing table with ping-before-evict
//	bucket.go        LRU buckets with replacement cache
//	contact.go       Contact and ContactCandidates
//	kademliaid.go    160-bit IDs and XOR distance
//	cli.go           put/set/get REPL used by cmd/cli
//
// Running two nodes by hand:
//
//	go run ./kademlia/cmd/cli --addr 127.0.0.1:9001
//	go run ./kademlia/cmd/cli --addr 127.0.0.1:9002 --bootstrap 127.0.0.1:9001
//
// then `set SYNC hello` on one and `get SYNC` on the other.
package kademlia
