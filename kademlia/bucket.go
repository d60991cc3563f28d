package kademlia

import (
	"container/list"
)

// bucket holds up to bucketSize contacts, most recently seen at the front.
type bucket struct {
	list *list.List
	// Replacement cache: recently seen contacts that didn't fit.
	// Promoted into the bucket when a member is dropped.
	repl    []Contact
	replCap int
}

func newBucket() *bucket {
	return &bucket{list: list.New(), replCap: 32}
}

// find returns the element holding id, or nil.
func (bucket *bucket) find(id *KademliaID) *list.Element {
	for e := bucket.list.Front(); e != nil; e = e.Next() {
		if e.Value.(Contact).ID.Equals(id) {
			return e
		}
	}
	return nil
}

// remove drops id from the bucket and reports whether it was present.
func (bucket *bucket) remove(id *KademliaID) bool {
	if e := bucket.find(id); e != nil {
		bucket.list.Remove(e)
		return true
	}
	return false
}

// GetContactAndCalcDistance returns an array of Contacts where
// the distance has already been calculated
func (bucket *bucket) GetContactAndCalcDistance(target *KademliaID) []Contact {
	var contacts []Contact

	for elt := bucket.list.Front(); elt != nil; elt = elt.Next() {
		contact := elt.Value.(Contact)
		contact.CalcDistance(target)
		contacts = append(contacts, contact)
	}

	return contacts
}

// Len return the size of the bucket
func (bucket *bucket) Len() int {
	return bucket.list.Len()
}

// addReplacement appends to the replacement cache (bounded, no dups).
func (bucket *bucket) addReplacement(c Contact) {
	for i := range bucket.repl {
		if bucket.repl[i].ID.Equals(c.ID) {
			return
		}
	}
	if len(bucket.repl) >= bucket.replCap {
		// drop oldest replacement; keep the more recent
		copy(bucket.repl, bucket.repl[1:])
		bucket.repl = bucket.repl[:bucket.replCap-1]
	}
	bucket.repl = append(bucket.repl, c)
}

// popReplacement returns the most recent replacement if any.
func (bucket *bucket) popReplacement() (Contact, bool) {
	n := len(bucket.repl)
	if n == 0 {
		return Contact{}, false
	}
	c := bucket.repl[n-1]
	bucket.repl = bucket.repl[:n-1]
	return c, true
}
