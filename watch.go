package main

import "time"

// WatchEntry is keyed by a watched (case-folded) name; it tracks the last
// LOGON/LOGOFF event time and the set of subscribing clients. Grounded on
// ircd-hybrid's src/watch.c, reworked from its hash/dlink_list shape onto
// Go maps per SPEC_FULL.md.
type WatchEntry struct {
	Name       string
	LastTime   time.Time
	WatchedBy  map[TS6UID]*LocalUser
}

// WatchTable is the process-wide name -> WatchEntry index (spec §3).
type WatchTable struct {
	entries map[string]*WatchEntry
}

// NewWatchTable creates an empty watch table.
func NewWatchTable() *WatchTable {
	return &WatchTable{entries: make(map[string]*WatchEntry)}
}

// watchAdd subscribes client to name, lazily creating the WatchEntry.
// Idempotent. Also records the subscription on the client's own Watches set
// so watchDelAll can reverse it in O(1) per entry on disconnect.
func (t *WatchTable) watchAdd(name string, client *LocalUser) {
	canon := canonicalizeNick(name)

	entry, exists := t.entries[canon]
	if !exists {
		entry = &WatchEntry{Name: canon, WatchedBy: make(map[TS6UID]*LocalUser)}
		t.entries[canon] = entry
	}

	entry.WatchedBy[client.User.UID] = client
	client.Watches[canon] = struct{}{}
}

// watchDel reverses watchAdd; deletes the entry entirely once its
// subscriber set empties (spec §8 invariant 7: no empty entries retained).
func (t *WatchTable) watchDel(name string, client *LocalUser) {
	canon := canonicalizeNick(name)

	entry, exists := t.entries[canon]
	if !exists {
		return
	}

	delete(entry.WatchedBy, client.User.UID)
	delete(client.Watches, canon)

	if len(entry.WatchedBy) == 0 {
		delete(t.entries, canon)
	}
}

// watchDelAll removes client from every entry it subscribes to, called from
// exit_client (LocalUser.quit).
func (t *WatchTable) watchDelAll(client *LocalUser) {
	for name := range client.Watches {
		t.watchDel(name, client)
	}
}

// watchCheckHash is called on NICK, quit, and SVSNICK rename. It updates
// LastTime on the entry keyed by the client's current (or departing) name
// and sends reply (RPL_LOGON/RPL_LOGOFF-shaped command+params) to every
// subscriber of that entry.
func (t *WatchTable) watchCheckHash(name string, command string, params []string, catbox *Catbox) {
	canon := canonicalizeNick(name)

	entry, exists := t.entries[canon]
	if !exists {
		return
	}

	entry.LastTime = time.Now()

	for _, subscriber := range entry.WatchedBy {
		subscriber.messageFromServer(command, params)
	}
}
