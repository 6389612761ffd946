package main

import (
	"testing"
	"time"

	"github.com/horgh/irc"
)

// Spec §8 Scenario B: SJOIN with a lower incoming TS wins the race, strips
// prefixes from the existing membership, replaces modes (clearing the key),
// and unions the membership.
func TestSJOINLowerTSWins(t *testing.T) {
	cb := newTestCatbox()
	origin := newTestLocalServer(cb, "8ZZ", "far.example.org")

	ch := NewChannel("#c", 200)
	ch.setMode(ChanModeTopicLimit)
	ch.setMode(ChanModeNoExternalMsgs)
	ch.setMode(ChanModeInviteOnly)
	ch.Key = "secret"
	cb.Channels["#c"] = ch

	alice, aliceLU := newTestUser(cb, "alice")
	aliceMember := &ChannelMember{Channel: ch, User: alice, ChanOp: true}
	ch.Members[alice.UID] = aliceMember
	ch.MembersLocal[alice.UID] = aliceMember
	aliceLU.User.Channels["#c"] = ch

	bob, bobLU := newTestUser(cb, "bob")
	bobMember := &ChannelMember{Channel: ch, User: bob, Voice: true}
	ch.Members[bob.UID] = bobMember
	ch.MembersLocal[bob.UID] = bobMember
	bobLU.User.Channels["#c"] = ch

	carolUID := TS6UID("8ZZAAAAAB")
	newTestRemoteUser(cb, "carol", carolUID, time.Now().Unix(), origin)

	origin.sjoinCommand(irc.Message{
		Prefix:  "8ZZ",
		Command: "SJOIN",
		Params:  []string{"100", "#c", "+m", "@" + string(carolUID)},
	})

	if ch.TS != 100 {
		t.Errorf("channel TS = %d, wanted 100 (incoming TS wins)", ch.TS)
	}
	if ch.hasMode(ChanModeInviteOnly) || len(ch.Key) > 0 {
		t.Errorf("old modes/key should have been wiped: invite-only=%v key=%q",
			ch.hasMode(ChanModeInviteOnly), ch.Key)
	}
	if !ch.hasMode(ChanModeModerated) {
		t.Errorf("channel should now carry the incoming +m mode")
	}

	if ch.Members[alice.UID].ChanOp {
		t.Errorf("alice should have lost her chanop status")
	}
	if ch.Members[bob.UID].Voice {
		t.Errorf("bob should have lost his voice status")
	}

	carolMember := ch.Members[carolUID]
	if carolMember == nil || !carolMember.ChanOp {
		t.Fatalf("carol should have joined with chanop")
	}

	var sawModeDiff bool
	for _, m := range drainWriteChan(aliceLU) {
		if m.Command == "MODE" {
			sawModeDiff = true
		}
	}
	if !sawModeDiff {
		t.Errorf("local members should be told about the mode change via MODE")
	}
}

// Incoming TS == local TS: take the union of simple modes and members, but
// keep the local key/limit.
func TestSJOINEqualTSUnion(t *testing.T) {
	cb := newTestCatbox()
	origin := newTestLocalServer(cb, "8ZZ", "far.example.org")

	ch := NewChannel("#c", 100)
	ch.Key = "localkey"
	ch.setMode(ChanModeTopicLimit)
	cb.Channels["#c"] = ch

	alice, _ := newTestUser(cb, "alice")
	ch.Members[alice.UID] = &ChannelMember{Channel: ch, User: alice, ChanOp: true}

	carolUID := TS6UID("8ZZAAAAAB")
	newTestRemoteUser(cb, "carol", carolUID, 100, origin)

	origin.sjoinCommand(irc.Message{
		Prefix:  "8ZZ",
		Command: "SJOIN",
		Params:  []string{"100", "#c", "+m", "@" + string(carolUID)},
	})

	if ch.TS != 100 {
		t.Errorf("channel TS should stay 100 on an equal-TS merge, got %d", ch.TS)
	}
	if ch.Key != "localkey" {
		t.Errorf("local key should be kept on an equal-TS merge, got %q", ch.Key)
	}
	if !ch.hasMode(ChanModeModerated) || !ch.hasMode(ChanModeTopicLimit) {
		t.Errorf("modes should be the union of local and incoming")
	}
	if !ch.Members[alice.UID].ChanOp {
		t.Errorf("alice should keep her chanop on an equal-TS merge")
	}
	if ch.Members[carolUID] == nil || !ch.Members[carolUID].ChanOp {
		t.Errorf("carol should join with her incoming chanop prefix")
	}
}

// Incoming TS greater than local: the incoming side lost the race. Its
// modes are discarded and its members join with no prefixes; the existing
// membership and TS are untouched.
func TestSJOINHigherTSLoses(t *testing.T) {
	cb := newTestCatbox()
	origin := newTestLocalServer(cb, "8ZZ", "far.example.org")

	ch := NewChannel("#c", 100)
	ch.setMode(ChanModeTopicLimit)
	cb.Channels["#c"] = ch

	alice, _ := newTestUser(cb, "alice")
	ch.Members[alice.UID] = &ChannelMember{Channel: ch, User: alice, ChanOp: true}

	carolUID := TS6UID("8ZZAAAAAB")
	newTestRemoteUser(cb, "carol", carolUID, 200, origin)

	origin.sjoinCommand(irc.Message{
		Prefix:  "8ZZ",
		Command: "SJOIN",
		Params:  []string{"200", "#c", "+ms", "@" + string(carolUID)},
	})

	if ch.TS != 100 {
		t.Errorf("channel TS should stay 100 when the incoming side loses, got %d", ch.TS)
	}
	if ch.hasMode(ChanModeSecret) || ch.hasMode(ChanModeModerated) {
		t.Errorf("incoming modes should be discarded when the incoming TS is higher")
	}
	if !ch.hasMode(ChanModeTopicLimit) {
		t.Errorf("existing local modes should be untouched")
	}
	if !ch.Members[alice.UID].ChanOp {
		t.Errorf("alice's chanop should be untouched")
	}

	carolMember := ch.Members[carolUID]
	if carolMember == nil {
		t.Fatalf("carol should still join the channel")
	}
	if carolMember.ChanOp || carolMember.HalfOp || carolMember.Voice {
		t.Errorf("carol should join with no prefixes, the incoming side lost the TS race")
	}
}

// A channel that doesn't exist locally yet simply adopts the incoming
// state wholesale.
func TestSJOINCreatesChannel(t *testing.T) {
	cb := newTestCatbox()
	origin := newTestLocalServer(cb, "8ZZ", "far.example.org")

	carolUID := TS6UID("8ZZAAAAAB")
	newTestRemoteUser(cb, "carol", carolUID, 100, origin)

	origin.sjoinCommand(irc.Message{
		Prefix:  "8ZZ",
		Command: "SJOIN",
		Params:  []string{"100", "#new", "+nt", "@" + string(carolUID)},
	})

	ch, exists := cb.Channels["#new"]
	if !exists {
		t.Fatalf("#new should have been created")
	}
	if ch.TS != 100 {
		t.Errorf("a freshly created channel should adopt the incoming TS, got %d", ch.TS)
	}
	if !ch.hasMode(ChanModeNoExternalMsgs) || !ch.hasMode(ChanModeTopicLimit) {
		t.Errorf("a freshly created channel should adopt the incoming modes")
	}
	if ch.Members[carolUID] == nil || !ch.Members[carolUID].ChanOp {
		t.Errorf("carol should join the new channel with her incoming chanop prefix")
	}
}
