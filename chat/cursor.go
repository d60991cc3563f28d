package chat

// Cursors records, per peer, the newest message already shown. It lives only
// in memory and is owned by the reconciler goroutine.
type Cursors struct {
	head map[ParticipantID]MessageID
}

func NewCursors() *Cursors {
	return &Cursors{head: make(map[ParticipantID]MessageID)}
}

// Lookup returns the cursor for p and whether p has been seen at all.
func (c *Cursors) Lookup(p ParticipantID) (MessageID, bool) {
	id, ok := c.head[p]
	return id, ok
}

// Newer reports whether id comes after p's cursor in p's chain. An id that
// cannot be ordered against the cursor counts as newer unless it is the
// cursor itself.
func (c *Cursors) Newer(p ParticipantID, id MessageID) bool {
	cur, ok := c.head[p]
	if !ok {
		return true
	}
	if cur == id {
		return false
	}
	after, ordered := id.After(cur)
	return after || !ordered
}

// Advance moves p's cursor to head. A head at or before the cursor, such as
// an older table entry read back from a lagging replica, leaves it alone.
func (c *Cursors) Advance(p ParticipantID, head MessageID) bool {
	if !c.Newer(p, head) {
		return false
	}
	c.head[p] = head
	return true
}

func (c *Cursors) Len() int {
	return len(c.head)
}
