package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"kchat/store"
)

// ParticipantID identifies one chat participant for the lifetime of its
// process: the overlay node id.
type ParticipantID string

// MessageID is the store key of a message. The zero value means "none" and is
// encoded as JSON null.
type MessageID string

func (id MessageID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(id))
}

func (id *MessageID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*id = MessageID(s)
	return nil
}

// NewMessageID returns a time-based (version 1) UUID.
func NewMessageID() MessageID {
	id, err := uuid.NewUUID()
	if err != nil {
		return MessageID(uuid.NewString())
	}
	return MessageID(id.String())
}

// After reports whether id was created after other. Ids on one author's
// chain are time-based uuids minted in order, so this is chain order. ok is
// false when either id carries no timestamp.
func (id MessageID) After(other MessageID) (after, ok bool) {
	a, err := uuid.Parse(string(id))
	if err != nil || a.Version() != 1 {
		return false, false
	}
	b, err := uuid.Parse(string(other))
	if err != nil || b.Version() != 1 {
		return false, false
	}
	if a.Time() != b.Time() {
		return a.Time() > b.Time(), true
	}
	return a.ClockSequence() > b.ClockSequence(), true
}

// Message is one immutable chain link.
type Message struct {
	Prev MessageID `json:"prev"`
	Text string    `json:"text"`
}

// StoredMessage is a Message together with the id it is stored under.
type StoredMessage struct {
	ID MessageID `json:"id"`
	Message
}

// PostMessage stores {prev, text} under a fresh id and returns the id.
func PostMessage(ctx context.Context, st store.Store, prev MessageID, text string) (MessageID, error) {
	raw, err := json.Marshal(Message{Prev: prev, Text: text})
	if err != nil {
		return "", err
	}
	id := NewMessageID()
	if err := st.Set(ctx, string(id), raw); err != nil {
		return "", fmt.Errorf("post message: %w", err)
	}
	return id, nil
}

// FetchMessage loads one message. A missing id yields store.ErrNotFound.
func FetchMessage(ctx context.Context, st store.Store, id MessageID) (Message, error) {
	if id == "" {
		return Message{}, store.ErrNotFound
	}
	raw, err := st.Get(ctx, string(id))
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message %s: %w", id, err)
	}
	return msg, nil
}

// History walks a chain back from head, newest first, returning at most
// limit messages. It stops quietly at the first message that is not available.
func History(ctx context.Context, st store.Store, head MessageID, limit int) ([]StoredMessage, error) {
	var out []StoredMessage
	seen := make(map[MessageID]struct{})
	for id := head; id != "" && len(out) < limit; {
		if _, loop := seen[id]; loop {
			break
		}
		seen[id] = struct{}{}
		msg, err := FetchMessage(ctx, st, id)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, StoredMessage{ID: id, Message: msg})
		id = msg.Prev
	}
	return out, nil
}
