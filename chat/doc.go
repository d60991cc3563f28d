// Package chat is the group-chat protocol that runs on a shared key-value
// store.
//
// Every participant keeps an append-only chain of messages, each stored once
// under a fresh id and pointing at its predecessor, and advertises its newest
// message in a single shared table stored under SyncKey. A Reconciler ticks
// once a second: it republishes its own entry in the table, walks each other
// participant's chain back from the advertised head to the point it already
// showed, prints what it found, and posts at most one line of local input.
//
// The table is read-modify-written without any transaction. Two participants
// publishing in the same window race and the store keeps whichever write it
// considers last; the loser's entry reappears on its next tick.
package chat
