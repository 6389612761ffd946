package main

import "testing"

func TestWatchAddIdempotent(t *testing.T) {
	cb := newTestCatbox()
	_, lu := newTestUser(cb, "alice")

	cb.Watch.watchAdd("bob", lu)
	cb.Watch.watchAdd("bob", lu)
	cb.Watch.watchAdd("BOB", lu)

	entry := cb.Watch.entries[canonicalizeNick("bob")]
	if entry == nil {
		t.Fatalf("watch entry for bob should exist")
	}
	if len(entry.WatchedBy) != 1 {
		t.Errorf("adding the same watch twice (and under a different casing) should be idempotent, got %d subscribers", len(entry.WatchedBy))
	}
	if _, watching := lu.Watches[canonicalizeNick("bob")]; !watching {
		t.Errorf("alice's own Watches set should record the subscription")
	}
}

// Spec §8 invariant 7: no empty WatchEntry is retained.
func TestWatchDelRemovesEmptyEntry(t *testing.T) {
	cb := newTestCatbox()
	_, lu := newTestUser(cb, "alice")

	cb.Watch.watchAdd("bob", lu)
	cb.Watch.watchDel("bob", lu)

	if _, exists := cb.Watch.entries[canonicalizeNick("bob")]; exists {
		t.Errorf("the watch entry should be deleted once its last subscriber leaves")
	}
	if _, watching := lu.Watches[canonicalizeNick("bob")]; watching {
		t.Errorf("alice's own Watches set should no longer record the subscription")
	}
}

func TestWatchDelAll(t *testing.T) {
	cb := newTestCatbox()
	_, lu := newTestUser(cb, "alice")

	cb.Watch.watchAdd("bob", lu)
	cb.Watch.watchAdd("carol", lu)

	cb.Watch.watchDelAll(lu)

	if len(cb.Watch.entries) != 0 {
		t.Errorf("watchDelAll should have emptied every entry alice subscribed to, got %d remaining", len(cb.Watch.entries))
	}
	if len(lu.Watches) != 0 {
		t.Errorf("alice's own Watches set should be empty after watchDelAll")
	}
}

func TestWatchDelAllKeepsOtherSubscribers(t *testing.T) {
	cb := newTestCatbox()
	_, aliceLU := newTestUser(cb, "alice")
	_, bobLU := newTestUser(cb, "bob")

	cb.Watch.watchAdd("carol", aliceLU)
	cb.Watch.watchAdd("carol", bobLU)

	cb.Watch.watchDelAll(aliceLU)

	entry := cb.Watch.entries[canonicalizeNick("carol")]
	if entry == nil {
		t.Fatalf("the watch entry for carol should survive while bob is still subscribed")
	}
	if _, stillThere := entry.WatchedBy[bobLU.User.UID]; !stillThere {
		t.Errorf("bob's subscription should be untouched by alice's watchDelAll")
	}
}

func TestWatchCheckHashNotifiesSubscribers(t *testing.T) {
	cb := newTestCatbox()
	_, watcherLU := newTestUser(cb, "watcher")
	_, subjectLU := newTestUser(cb, "carol")

	cb.Watch.watchAdd("carol", watcherLU)

	cb.Watch.watchCheckHash("carol", "600", []string{"carol", "u", "h", "0", "logged on"}, cb)

	sent := drainWriteChan(watcherLU)
	var sawLogon bool
	for _, m := range sent {
		if m.Command == "600" {
			sawLogon = true
		}
	}
	if !sawLogon {
		t.Errorf("watcher should have received the RPL_LOGON notification, got %+v", sent)
	}

	// A name with no watchers shouldn't panic and shouldn't send anything.
	cb.Watch.watchCheckHash("nobody-watches-this", "600", []string{"x"}, cb)
	if len(drainWriteChan(subjectLU)) != 0 {
		t.Errorf("an unwatched name should notify nobody")
	}
}
