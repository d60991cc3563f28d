package kademlia

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// IDLength is the number of bytes in a KademliaID.
const IDLength = 20

// KademliaID is a 160-bit node or key identifier.
type KademliaID [IDLength]byte

// NewKademliaID decodes a 40-char hex string. Invalid input yields a zero ID;
// use ParseKademliaID when the input is untrusted.
func NewKademliaID(data string) *KademliaID {
	decoded, _ := hex.DecodeString(data)
	id := KademliaID{}
	copy(id[:], decoded)
	return &id
}

// ParseKademliaID decodes a 40-char hex string and rejects anything else.
func ParseKademliaID(data string) (*KademliaID, error) {
	raw, err := hex.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != IDLength {
		return nil, fmt.Errorf("%w: got %d bytes want %d", ErrInvalidKey, len(raw), IDLength)
	}
	var id KademliaID
	copy(id[:], raw)
	return &id, nil
}

// NewRandomKademliaID returns an ID read from crypto/rand.
func NewRandomKademliaID() *KademliaID {
	id := KademliaID{}
	_, _ = rand.Read(id[:])
	return &id
}

// KeyID maps an arbitrary store key onto the ID space.
func KeyID(key string) *KademliaID {
	sum := sha1.Sum([]byte(key))
	id := KademliaID(sum)
	return &id
}

// Less compares lexicographically (used for distance ordering)
func (kademliaID *KademliaID) Less(other *KademliaID) bool {
	for i := 0; i < IDLength; i++ {
		if kademliaID[i] != other[i] {
			return kademliaID[i] < other[i]
		}
	}
	return false
}

// Equals checks equality
func (kademliaID *KademliaID) Equals(other *KademliaID) bool {
	return *kademliaID == *other
}

// CalcDistance = XOR
func (kademliaID KademliaID) CalcDistance(target *KademliaID) *KademliaID {
	result := KademliaID{}
	for i := 0; i < IDLength; i++ {
		result[i] = kademliaID[i] ^ target[i]
	}
	return &result
}

// String hex-encodes the ID
func (kademliaID *KademliaID) String() string {
	return hex.EncodeToString(kademliaID[0:IDLength])
}
