package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"kchat/store"
)

// SyncKey is the store key every participant publishes the table under.
const SyncKey = "SYNC"

// MemberRecord is what a participant advertises about itself.
type MemberRecord struct {
	Name        string    `json:"name"`
	LastMessage MessageID `json:"last_message"`
}

// SyncTable maps every known participant to its record.
type SyncTable map[ParticipantID]MemberRecord

func (t SyncTable) clone() SyncTable {
	out := make(SyncTable, len(t))
	for p, rec := range t {
		out[p] = rec
	}
	return out
}

// Peers lists every participant except self in a stable order.
func (t SyncTable) Peers(self ParticipantID) []ParticipantID {
	peers := make([]ParticipantID, 0, len(t))
	for p := range t {
		if p != self {
			peers = append(peers, p)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// FetchTable reads and decodes the shared table.
func FetchTable(ctx context.Context, st store.Store) (SyncTable, error) {
	raw, err := st.Get(ctx, SyncKey)
	if err != nil {
		return nil, err
	}
	var table SyncTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("decode sync table: %w", err)
	}
	if table == nil {
		table = SyncTable{}
	}
	return table, nil
}

// MergeTable reads the shared table, upserts self and publishes the result.
//
// When the shared value is present it replaces everything known about other
// peers. When it is absent (or unreadable) the previously known table is used
// instead, so a transient miss does not publish a table without the rest of
// the group. The merged table is always returned; the error reports anything
// other than a plain miss.
func MergeTable(ctx context.Context, st store.Store, known SyncTable, self ParticipantID, name string, head MessageID) (SyncTable, error) {
	var readErr error
	table, err := FetchTable(ctx, st)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			readErr = err
		}
		table = known.clone()
	}

	table[self] = MemberRecord{Name: name, LastMessage: head}

	raw, err := json.Marshal(table)
	if err != nil {
		return table, errors.Join(readErr, err)
	}
	if err := st.Set(ctx, SyncKey, raw); err != nil {
		return table, errors.Join(readErr, fmt.Errorf("publish sync table: %w", err))
	}
	return table, readErr
}
