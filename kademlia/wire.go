package kademlia

// wire.go: on-wire message types for the overlay RPCs

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

type msgType string

const (
	msgPing        msgType = "PING"
	msgPong        msgType = "PONG"
	msgFindNode    msgType = "FIND_NODE"
	msgFindNodeOK  msgType = "FIND_NODE_OK"
	msgStore       msgType = "STORE"
	msgStoreOK     msgType = "STORE_OK"
	msgFindValue   msgType = "FIND_VALUE"
	msgFindValueOK msgType = "FIND_VALUE_OK"
)

// isResponse reports whether t answers an in-flight request.
func (t msgType) isResponse() bool {
	switch t {
	case msgPong, msgFindNodeOK, msgStoreOK, msgFindValueOK:
		return true
	}
	return false
}

// Serializable contact for the wire. The in-memory distance field is not sent.
type wireContact struct {
	IDHex   string `json:"id"`
	Address string `json:"address"`
}

func (w wireContact) toContact() (Contact, error) {
	idBytes, err := hex.DecodeString(w.IDHex)
	if err != nil {
		return Contact{}, err
	}
	if len(idBytes) != IDLength {
		return Contact{}, fmt.Errorf("invalid id length: got %d want %d", len(idBytes), IDLength)
	}
	var id KademliaID
	copy(id[:], idBytes)
	return Contact{ID: &id, Address: w.Address}, nil
}

func fromContact(c Contact) wireContact {
	return wireContact{
		IDHex:   c.ID.String(),
		Address: c.Address,
	}
}

// Common envelope for all messages.
type envelope struct {
	Type     msgType       `json:"type"`
	From     wireContact   `json:"from"`
	MsgID    string        `json:"msg_id"`
	TargetID string        `json:"target_id,omitempty"` // FIND_NODE, hex
	Contacts []wireContact `json:"contacts,omitempty"`  // FIND_NODE_OK, FIND_VALUE_OK miss

	// STORE, FIND_VALUE and FIND_VALUE_OK hit
	Key   string `json:"key,omitempty"`
	Value []byte `json:"value,omitempty"`
	Stamp int64  `json:"stamp,omitempty"`
	Found bool   `json:"found,omitempty"`
}

func (e envelope) marshal() ([]byte, error)  { return json.Marshal(e) }
func (e *envelope) unmarshal(b []byte) error { return json.Unmarshal(b, e) }

func (e envelope) record() Record {
	return Record{Value: e.Value, Stamp: e.Stamp}
}
