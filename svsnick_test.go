package main

import (
	"testing"

	"github.com/horgh/irc"
)

// newTestService registers a local service user with FlagService set, used
// as the SVSNICK source.
func newTestService(cb *Catbox) *User {
	u, _ := newTestUser(cb, "opserv")
	u.Flags |= FlagService
	return u
}

// Spec Scenario D, first half: target u (TS 500) collides with an existing
// registered user v (TS 400); u is killed (SVSNICK Collide).
func TestSVSNICKCollide(t *testing.T) {
	cb := newTestCatbox()
	service := newTestService(cb)
	ls := newTestLocalServer(cb, "2AA", "hub.example.org")

	target, _ := newTestUser(cb, "u")
	target.NickTS = 500

	occupant, _ := newTestUser(cb, "v")
	occupant.NickTS = 400
	occupant.Modes['r'] = struct{}{}

	ls.svsnickCommand(irc.Message{
		Prefix:  string(service.UID),
		Command: "SVSNICK",
		Params:  []string{"u", "v", "600"},
	})

	if _, exists := cb.Users[target.UID]; exists {
		t.Errorf("target u should have been killed on collision")
	}
	if _, exists := cb.Nicks[canonicalizeNick("u")]; exists {
		t.Errorf("nick u should have been freed once its holder was killed")
	}
	// v keeps occupying its nick; the rename never took effect.
	if uid, exists := cb.Nicks[canonicalizeNick("v")]; !exists || uid != occupant.UID {
		t.Errorf("v should still hold its own nick after the collision kill")
	}
}

// Spec Scenario D, second half: if the nick is instead held by an
// UNKNOWN-state (mid-registration) client, that client is killed
// (SVSNICK Override) and the target is renamed with the new TS,
// UMODE_REGISTERED cleared, and watch LOGOFF(old)+LOGON(new) fired.
func TestSVSNICKOverride(t *testing.T) {
	cb := newTestCatbox()
	service := newTestService(cb)
	ls := newTestLocalServer(cb, "2AA", "hub.example.org")

	target, lu := newTestUser(cb, "u")
	target.NickTS = 500
	target.Modes['r'] = struct{}{}

	pending := newTestLocalClient(cb)
	pending.PreRegDisplayNick = "v"

	cb.Watch.watchAdd("v", lu)

	ls.svsnickCommand(irc.Message{
		Prefix:  string(service.UID),
		Command: "SVSNICK",
		Params:  []string{"u", "v", "600"},
	})

	if _, exists := cb.LocalClients[pending.ID]; exists {
		t.Errorf("the pending registration holding nick v should have been killed")
	}

	if target.DisplayNick != "v" {
		t.Fatalf("target should have been renamed to v, got %q", target.DisplayNick)
	}
	if target.NickTS != 600 {
		t.Errorf("target NickTS = %d, wanted 600", target.NickTS)
	}
	if _, exists := cb.Nicks[canonicalizeNick("u")]; exists {
		t.Errorf("old nick u should be freed after rename")
	}
	if uid, exists := cb.Nicks[canonicalizeNick("v")]; !exists || uid != target.UID {
		t.Errorf("new nick v should now map to the renamed target")
	}

	if _, registered := target.Modes['r']; registered {
		t.Errorf("UMODE_REGISTERED should have been cleared on SVSNICK rename")
	}

	sent := drainWriteChan(lu)
	var sawModeEcho, sawLogon bool
	for _, m := range sent {
		if m.Command == "MODE" && len(m.Params) == 2 && m.Params[1] == "-r" {
			sawModeEcho = true
		}
		if m.Command == "600" {
			sawLogon = true
		}
	}
	if !sawModeEcho {
		t.Errorf("expected a -r MODE echo among %+v", sent)
	}
	if !sawLogon {
		t.Errorf("expected the watch RPL_LOGON (600) to fire for the new nick among %+v", sent)
	}
}

// The authoritative bit-exact parse (spec §9 Open Question): the 4-param
// form is legacy (<old nick> <old TS> <new nick> <new TS>), and a stale
// old-TS silently drops the command.
func TestSVSNICKLegacyStaleOldTSDropped(t *testing.T) {
	cb := newTestCatbox()
	service := newTestService(cb)
	ls := newTestLocalServer(cb, "2AA", "hub.example.org")

	target, _ := newTestUser(cb, "u")
	target.NickTS = 500

	ls.svsnickCommand(irc.Message{
		Prefix:  string(service.UID),
		Command: "SVSNICK",
		// Legacy form; old TS (999) doesn't match target.NickTS (500).
		Params: []string{"u", "999", "w", "600"},
	})

	if target.DisplayNick != "u" {
		t.Errorf("a stale old-TS SVSNICK should be dropped, but nick changed to %q", target.DisplayNick)
	}
}

func TestSVSNICKSameNickSameCasingIsNoop(t *testing.T) {
	cb := newTestCatbox()
	service := newTestService(cb)
	ls := newTestLocalServer(cb, "2AA", "hub.example.org")

	target, _ := newTestUser(cb, "u")
	target.NickTS = 500

	ls.svsnickCommand(irc.Message{
		Prefix:  string(service.UID),
		Command: "SVSNICK",
		Params:  []string{"u", "u", "600"},
	})

	if target.NickTS != 500 {
		t.Errorf("renaming a nick to its own identical casing should be a no-op, NickTS changed to %d", target.NickTS)
	}
}
