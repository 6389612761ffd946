package main

import "testing"

func TestWildcardMatch(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "anything", true},
		{"*", "", true},
		{"a*c", "abc", true},
		{"a*c", "ac", true},
		{"a*c", "abbbbc", true},
		{"a*c", "abcd", false},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"*.example.org", "host.example.org", true},
		{"*.example.org", "example.org", false},
		{"NICK", "nick", true}, // wildcard matching is case-folded
		{"exact", "exact", true},
		{"exact", "different", false},
	}

	for _, test := range tests {
		if got := wildcardMatch(test.pattern, test.s); got != test.want {
			t.Errorf("wildcardMatch(%q, %q) = %v, wanted %v", test.pattern, test.s, got, test.want)
		}
	}
}

func TestParseBanMask(t *testing.T) {
	tests := []struct {
		mask                   string
		nick, user, host string
	}{
		{"nick!user@host", "nick", "user", "host"},
		{"nick!user@*", "nick", "user", "*"},
		{"*!user@host", "*", "user", "host"},
		{"*!*@host", "*", "*", "host"},
		{"nick", "nick", "*", "*"},
		{"*!*@*", "*", "*", "*"},
		{"user@host", "*", "user", "host"},
	}

	for _, test := range tests {
		nick, user, host := parseBanMask(test.mask)
		if nick != test.nick || user != test.user || host != test.host {
			t.Errorf("parseBanMask(%q) = (%q, %q, %q), wanted (%q, %q, %q)",
				test.mask, nick, user, host, test.nick, test.user, test.host)
		}
	}
}

func newTestBanUser() *User {
	return &User{
		DisplayNick: "eve",
		Username:    "e",
		Hostname:    "bad.host",
		Sockhost:    "1.2.3.4",
		IP:          "1.2.3.4",
	}
}

// Spec §4.5 step 2: nick and user must both match; host checked against
// Hostname, Sockhost, or IP.
func TestBanMatches(t *testing.T) {
	u := newTestBanUser()

	if !banMatches(NewBan("*!*@bad.host", "op", 0), u) {
		t.Errorf("ban on bad.host should match")
	}
	if !banMatches(NewBan("*!*@1.2.3.4", "op", 0), u) {
		t.Errorf("ban on sockhost/IP should match")
	}
	if banMatches(NewBan("*!*@good.host", "op", 0), u) {
		t.Errorf("ban on an unrelated host should not match")
	}
	if banMatches(NewBan("bob!*@*", "op", 0), u) {
		t.Errorf("ban on a different nick should not match")
	}
}

// Spec Scenario C: ban then except, using the scenario's own exceptlist
// syntax ($~n:eve, an extban exception rather than a plain host mask).
func TestIsBannedAndException(t *testing.T) {
	ch := NewChannel("#r", 0)
	u := newTestBanUser()

	addBan(ch, &ch.Bans, "*!*@bad.host", "op", 0, true)

	if !isBanned(ch, u) {
		t.Fatalf("eve should be banned by *!*@bad.host")
	}

	addBan(ch, &ch.Excepts, "$~n:eve", "op", 0, true)

	if isBanned(ch, u) {
		t.Fatalf("eve should no longer be banned once excepted by $~n:eve")
	}
}

// TestExtbanMatches exercises the extban engine directly: nick, account,
// and realname matchers, plus the "unrecognized type falls back" case.
func TestExtbanMatches(t *testing.T) {
	u := newTestBanUser()
	u.Account = "eve_acct"
	u.RealName = "Eve Example"

	tests := []struct {
		mask      string
		wantMatch bool
		wantFound bool
	}{
		{"$~n:eve", true, true},
		{"$n:eve", true, true},
		{"$n:bob", false, true},
		{"$a:eve_acct", true, true},
		{"$a:other", false, true},
		{"$r:*Example*", true, true},
		{"$q:eve", false, false},        // unrecognized type: not found
		{"*!*@bad.host", false, false}, // not extban syntax at all
	}

	for _, test := range tests {
		matched, found := extbanMatches(test.mask, u)
		if matched != test.wantMatch || found != test.wantFound {
			t.Errorf("extbanMatches(%q) = (%v, %v), wanted (%v, %v)",
				test.mask, matched, found, test.wantMatch, test.wantFound)
		}
	}
}

// Spec §4.11 / invariant 4: mutating Bans or Excepts invalidates
// BAN_CHECKED on every member; Invex mutation does not.
func TestInvalidateBanCache(t *testing.T) {
	ch := NewChannel("#x", 0)
	u := newTestBanUser()
	member := &ChannelMember{Channel: ch, User: u, BanChecked: true, BanSilenced: true}
	ch.Members[u.UID] = member

	addBan(ch, &ch.Invex, "*!*@good.host", "op", 0, false)
	if !member.BanChecked {
		t.Errorf("invex mutation should not invalidate BanChecked")
	}

	addBan(ch, &ch.Bans, "*!*@bad.host", "op", 0, true)
	if member.BanChecked {
		t.Errorf("ban list mutation should invalidate BanChecked on every member")
	}
}

func TestAddBanDeduplicates(t *testing.T) {
	ch := NewChannel("#x", 0)

	if !addBan(ch, &ch.Bans, "*!*@bad.host", "op", 0, true) {
		t.Fatalf("first add of a mask should succeed")
	}
	if addBan(ch, &ch.Bans, "*!*@bad.host", "op", 0, true) {
		t.Errorf("duplicate mask should not be added twice")
	}
	if len(ch.Bans) != 1 {
		t.Errorf("len(ch.Bans) = %d, wanted 1", len(ch.Bans))
	}
}

func TestRemoveBan(t *testing.T) {
	ch := NewChannel("#x", 0)
	addBan(ch, &ch.Bans, "*!*@bad.host", "op", 0, true)

	if !removeBan(ch, &ch.Bans, "*!*@bad.host", true) {
		t.Fatalf("removing an existing mask should succeed")
	}
	if len(ch.Bans) != 0 {
		t.Errorf("ch.Bans should be empty after removal")
	}
	if removeBan(ch, &ch.Bans, "*!*@bad.host", true) {
		t.Errorf("removing a mask that's already gone should fail")
	}
}
