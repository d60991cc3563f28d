package kademlia

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Record is a stored value together with its writer's stamp (unix nanos).
type Record struct {
	Value []byte
	Stamp int64
}

// supersedes reports whether r should replace cur under last-write-wins.
func (r Record) supersedes(cur Record) bool {
	return r.Stamp >= cur.Stamp
}

// Storage is a node's local replica set. Save applies last-write-wins and
// reports whether the record was accepted.
type Storage interface {
	Load(key string) (Record, bool, error)
	Save(key string, rec Record) (bool, error)
	Keys() ([]string, error)
	Close() error
}

// MemoryStorage keeps replicas in a map; the default.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]Record
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]Record)}
}

func (s *MemoryStorage) Load(key string) (Record, bool, error) {
	s.mu.RLock()
	rec, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false, nil
	}
	return Record{Value: cloneBytes(rec.Value), Stamp: rec.Stamp}, true, nil
}

func (s *MemoryStorage) Save(key string, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.values[key]; ok && !rec.supersedes(cur) {
		return false, nil
	}
	s.values[key] = Record{Value: cloneBytes(rec.Value), Stamp: rec.Stamp}
	return true, nil
}

func (s *MemoryStorage) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *MemoryStorage) Close() error { return nil }

var valuesBucket = []byte("values")

// BoltStorage persists replicas in a bbolt file so a restarted node can keep
// serving what it held. Values are stored as an 8-byte big-endian stamp
// followed by the payload.
type BoltStorage struct {
	db *bolt.DB
}

// OpenBoltStorage opens (or creates) the database at path.
func OpenBoltStorage(path string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(valuesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt bucket: %w", err)
	}
	return &BoltStorage{db: db}, nil
}

func (s *BoltStorage) Load(key string) (Record, bool, error) {
	var (
		rec   Record
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(valuesBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		r, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		rec, found = r, true
		return nil
	})
	return rec, found, err
}

func (s *BoltStorage) Save(key string, rec Record) (bool, error) {
	accepted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(valuesBucket)
		if raw := b.Get([]byte(key)); raw != nil {
			cur, err := decodeRecord(raw)
			if err == nil && !rec.supersedes(cur) {
				return nil
			}
		}
		accepted = true
		return b.Put([]byte(key), encodeRecord(rec))
	})
	return accepted, err
}

func (s *BoltStorage) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(valuesBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}

var errShortRecord = errors.New("stored record shorter than its stamp")

func encodeRecord(rec Record) []byte {
	out := make([]byte, 8+len(rec.Value))
	binary.BigEndian.PutUint64(out, uint64(rec.Stamp))
	copy(out[8:], rec.Value)
	return out
}

// decodeRecord copies out of raw, which bbolt only keeps valid inside a tx.
func decodeRecord(raw []byte) (Record, error) {
	if len(raw) < 8 {
		return Record{}, errShortRecord
	}
	return Record{
		Stamp: int64(binary.BigEndian.Uint64(raw)),
		Value: cloneBytes(raw[8:]),
	}, nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
