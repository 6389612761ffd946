package main

import (
	"strings"
	"testing"
	"time"

	"github.com/horgh/irc"
)

// findReply returns the first message of the given command among sent, and
// whether one was found.
func findReply(sent []messageSent, command string) (messageSent, bool) {
	for _, m := range sent {
		if m.Command == command {
			return m, true
		}
	}
	return messageSent{}, false
}

// Spec §8 Scenario A: join into an empty channel creates it, the joiner
// gets @, and the server broadcasts JOIN + the default MODE +nt, and
// receives NAMES framed with @alice plus RPL_ENDOFNAMES.
func TestJoinCommandEmptyChannel(t *testing.T) {
	cb := newTestCatbox()
	alice, lu := newTestUser(cb, "alice")

	lu.joinCommand(irc.Message{
		Command: "JOIN",
		Params:  []string{"#t"},
	})

	ch, exists := cb.Channels["#t"]
	if !exists {
		t.Fatalf("#t should have been created")
	}

	member := ch.Members[alice.UID]
	if member == nil {
		t.Fatalf("alice should be a member of #t")
	}
	if !member.ChanOp {
		t.Errorf("alice, the first joiner, should hold chanop")
	}
	if !ch.hasMode(ChanModeNoExternalMsgs) || !ch.hasMode(ChanModeTopicLimit) {
		t.Errorf("a newly created channel should default to +nt")
	}

	sent := drainWriteChan(lu)

	var sawJoin, sawMode, sawNames, sawEndOfNames bool
	for _, m := range sent {
		switch m.Command {
		case "JOIN":
			if len(m.Params) == 1 && m.Params[0] == "#t" {
				sawJoin = true
			}
		case "MODE":
			if len(m.Params) == 2 && m.Params[0] == "#t" && m.Params[1] == "+nt" {
				sawMode = true
			}
		case "353":
			for _, p := range m.Params {
				if p == "@alice" {
					sawNames = true
				}
			}
		case "366":
			sawEndOfNames = true
		}
	}

	if !sawJoin {
		t.Errorf("expected a JOIN echo among %+v", sent)
	}
	if !sawMode {
		t.Errorf("expected a MODE #t +nt broadcast among %+v", sent)
	}
	if !sawNames {
		t.Errorf("expected RPL_NAMREPLY to show @alice among %+v", sent)
	}
	if !sawEndOfNames {
		t.Errorf("expected RPL_ENDOFNAMES among %+v", sent)
	}
}

// A second joiner does not get chanop, and the existing member hears
// about it via JOIN.
func TestJoinCommandSecondJoinerNoOp(t *testing.T) {
	cb := newTestCatbox()
	_, aliceLU := newTestUser(cb, "alice")
	aliceLU.joinCommand(irc.Message{Command: "JOIN", Params: []string{"#t"}})
	drainWriteChan(aliceLU)

	bob, bobLU := newTestUser(cb, "bob")
	bobLU.joinCommand(irc.Message{Command: "JOIN", Params: []string{"#t"}})

	ch := cb.Channels["#t"]
	member := ch.Members[bob.UID]
	if member == nil || member.ChanOp {
		t.Errorf("the second joiner should not receive chanop")
	}

	aliceSent := drainWriteChan(aliceLU)
	var aliceSawJoin bool
	for _, m := range aliceSent {
		if m.Command == "JOIN" {
			aliceSawJoin = true
		}
	}
	if !aliceSawJoin {
		t.Errorf("alice should be told about bob's join")
	}
}

func TestJoinCommandAlreadyOnChannel(t *testing.T) {
	cb := newTestCatbox()
	_, lu := newTestUser(cb, "alice")
	lu.joinCommand(irc.Message{Command: "JOIN", Params: []string{"#t"}})
	drainWriteChan(lu)

	lu.joinCommand(irc.Message{Command: "JOIN", Params: []string{"#t"}})

	sent := drainWriteChan(lu)
	if len(sent) != 1 || sent[0].Command != "443" {
		t.Errorf("re-joining the same channel should only yield 443, got %+v", sent)
	}
}

func TestJoinCommandInvalidChannelName(t *testing.T) {
	cb := newTestCatbox()
	_, lu := newTestUser(cb, "alice")

	lu.joinCommand(irc.Message{Command: "JOIN", Params: []string{"not-a-channel"}})

	sent := drainWriteChan(lu)
	if len(sent) != 1 || sent[0].Command != "403" {
		t.Errorf("an invalid channel name should yield 403, got %+v", sent)
	}
}

// Spec §4.13: a plain WHOIS of a local, otherwise unremarkable target
// carries RPL_WHOISUSER, RPL_WHOISSERVER, RPL_WHOISIDLE and
// RPL_ENDOFWHOIS, and nothing that only applies to opers/services/away
// users.
func TestWhoisCommandBasicReplies(t *testing.T) {
	cb := newTestCatbox()
	_, aliceLU := newTestUser(cb, "alice")
	newTestUser(cb, "bob")
	drainWriteChan(aliceLU)

	aliceLU.whoisCommand(irc.Message{Command: "WHOIS", Params: []string{"bob"}})

	sent := drainWriteChan(aliceLU)

	if _, ok := findReply(sent, "311"); !ok {
		t.Errorf("expected RPL_WHOISUSER among %+v", sent)
	}
	if _, ok := findReply(sent, "312"); !ok {
		t.Errorf("expected RPL_WHOISSERVER among %+v", sent)
	}
	if _, ok := findReply(sent, "317"); !ok {
		t.Errorf("expected RPL_WHOISIDLE for a local target among %+v", sent)
	}
	if _, ok := findReply(sent, "318"); !ok {
		t.Errorf("expected RPL_ENDOFWHOIS among %+v", sent)
	}

	for _, forbidden := range []string{"313", "301", "330", "671", "276"} {
		if _, ok := findReply(sent, forbidden); ok {
			t.Errorf("did not expect %s for a plain non-oper, non-away target, got %+v", forbidden, sent)
		}
	}
}

// Spec §4.13 / m_whois.c's whois_can_see_channels: a public channel
// membership is shown to anyone; a secret channel membership is hidden
// from a non-member non-operator, shown plainly to a fellow member or the
// target itself, and shown with the oper-only "~" marker to an operator
// who isn't a member.
func TestWhoisCommandChannelVisibility(t *testing.T) {
	cb := newTestCatbox()
	bob, bobLU := newTestUser(cb, "bob")

	pub := NewChannel("#pub", time.Now().Unix())
	cb.Channels["#pub"] = pub
	cb.addUserToChannel(pub, bob, false, false, false, false)

	sec := NewChannel("#sec", time.Now().Unix())
	sec.setMode(ChanModeSecret)
	cb.Channels["#sec"] = sec
	cb.addUserToChannel(sec, bob, false, false, false, false)

	// A plain non-member, non-operator asker sees only the public channel.
	_, aliceLU := newTestUser(cb, "alice")
	drainWriteChan(aliceLU)
	aliceLU.whoisCommand(irc.Message{Command: "WHOIS", Params: []string{"bob"}})
	sent := drainWriteChan(aliceLU)
	reply, ok := findReply(sent, "319")
	if !ok {
		t.Fatalf("expected RPL_WHOISCHANNELS among %+v", sent)
	}
	if len(reply.Params) != 3 {
		t.Fatalf("expected 3 params on RPL_WHOISCHANNELS, got %+v", reply)
	}
	channels := reply.Params[2]
	if !strings.Contains(channels, "#pub") {
		t.Errorf("expected #pub to be shown, got %q", channels)
	}
	if strings.Contains(channels, "#sec") {
		t.Errorf("did not expect #sec to be shown to a non-member non-oper, got %q", channels)
	}

	// A fellow member of the secret channel sees it plainly.
	carol, carolLU := newTestUser(cb, "carol")
	cb.addUserToChannel(sec, carol, false, false, false, false)
	drainWriteChan(carolLU)
	carolLU.whoisCommand(irc.Message{Command: "WHOIS", Params: []string{"bob"}})
	sent = drainWriteChan(carolLU)
	reply, ok = findReply(sent, "319")
	if !ok || !strings.Contains(reply.Params[2], "#sec") || strings.Contains(reply.Params[2], "~#sec") {
		t.Errorf("expected #sec shown plainly to a fellow member, got %+v", reply)
	}

	// An operator who isn't a member sees it marked with "~".
	dave, daveLU := newTestUser(cb, "dave")
	dave.Modes['o'] = struct{}{}
	drainWriteChan(daveLU)
	daveLU.whoisCommand(irc.Message{Command: "WHOIS", Params: []string{"bob"}})
	sent = drainWriteChan(daveLU)
	reply, ok = findReply(sent, "319")
	if !ok || !strings.Contains(reply.Params[2], "~#sec") {
		t.Errorf("expected #sec shown with the oper marker to a non-member oper, got %+v", reply)
	}
}

// Spec §4.13: RPL_WHOISACCOUNT appears only once the target has an
// authenticated services account, and RPL_AWAY only once the target has
// set an away message.
func TestWhoisCommandAccountAndAway(t *testing.T) {
	cb := newTestCatbox()
	bob, _ := newTestUser(cb, "bob")
	_, aliceLU := newTestUser(cb, "alice")
	drainWriteChan(aliceLU)

	aliceLU.whoisCommand(irc.Message{Command: "WHOIS", Params: []string{"bob"}})
	sent := drainWriteChan(aliceLU)
	if _, ok := findReply(sent, "330"); ok {
		t.Errorf("did not expect RPL_WHOISACCOUNT for an unauthenticated target, got %+v", sent)
	}
	if _, ok := findReply(sent, "301"); ok {
		t.Errorf("did not expect RPL_AWAY for a present target, got %+v", sent)
	}

	bob.Account = "bobby"
	bob.AwayMessage = "gone fishing"

	aliceLU.whoisCommand(irc.Message{Command: "WHOIS", Params: []string{"bob"}})
	sent = drainWriteChan(aliceLU)

	accountReply, ok := findReply(sent, "330")
	if !ok || accountReply.Params[2] != "bobby" {
		t.Errorf("expected RPL_WHOISACCOUNT with bobby's account, got %+v", sent)
	}
	awayReply, ok := findReply(sent, "301")
	if !ok || awayReply.Params[2] != "gone fishing" {
		t.Errorf("expected RPL_AWAY with bob's away message, got %+v", sent)
	}
}

// Spec §4.13: a service tag with numeric "313" replaces the default
// RPL_WHOISOPERATOR line for an operator target instead of appearing
// alongside it.
func TestWhoisCommandOperatorSuppressedByServiceTag(t *testing.T) {
	cb := newTestCatbox()
	bob, _ := newTestUser(cb, "bob")
	bob.Modes['o'] = struct{}{}
	bob.ServiceTags = []ServiceTag{
		{Numeric: "313", Text: "is a Channel Service"},
	}

	_, aliceLU := newTestUser(cb, "alice")
	drainWriteChan(aliceLU)

	aliceLU.whoisCommand(irc.Message{Command: "WHOIS", Params: []string{"bob"}})
	sent := drainWriteChan(aliceLU)

	var operLines []messageSent
	for _, m := range sent {
		if m.Command == "313" {
			operLines = append(operLines, m)
		}
	}
	if len(operLines) != 1 {
		t.Fatalf("expected exactly one 313 line (the service tag), got %+v", operLines)
	}
	if operLines[0].Params[2] != "is a Channel Service" {
		t.Errorf("expected the service tag's text to replace the default oper line, got %+v", operLines[0])
	}
}

// Spec §4.13: RPL_WHOISIDLE only applies to a locally-connected target;
// a remote target (heard about only via TS6 UID propagation) gets no
// idle line.
func TestWhoisCommandIdleOnlyForLocal(t *testing.T) {
	cb := newTestCatbox()
	ls := newTestLocalServer(cb, "2AA", "remote.test")
	newTestRemoteUser(cb, "rudy", "2AAAAAAAB", time.Now().Unix(), ls)

	_, aliceLU := newTestUser(cb, "alice")
	drainWriteChan(aliceLU)

	aliceLU.whoisCommand(irc.Message{Command: "WHOIS", Params: []string{"rudy"}})
	sent := drainWriteChan(aliceLU)

	if _, ok := findReply(sent, "317"); ok {
		t.Errorf("did not expect RPL_WHOISIDLE for a remote target, got %+v", sent)
	}
	if _, ok := findReply(sent, "318"); !ok {
		t.Errorf("expected RPL_ENDOFWHOIS regardless, got %+v", sent)
	}
}

// Spec §4.13's pace_wait_simple throttle: a non-operator's second rapid
// WHOIS of a remote target is turned away with RPL_LOAD2HI, but an
// operator is never throttled and a local target never triggers it.
func TestWhoisCommandPaceThrottleNonOperRemoteTarget(t *testing.T) {
	cb := newTestCatbox()
	cb.Config.PaceWaitSimple = time.Minute
	ls := newTestLocalServer(cb, "2AA", "remote.test")
	newTestRemoteUser(cb, "rudy", "2AAAAAAAB", time.Now().Unix(), ls)

	_, aliceLU := newTestUser(cb, "alice")
	drainWriteChan(aliceLU)

	aliceLU.whoisCommand(irc.Message{Command: "WHOIS", Params: []string{"rudy"}})
	drainWriteChan(aliceLU)

	aliceLU.whoisCommand(irc.Message{Command: "WHOIS", Params: []string{"rudy"}})
	sent := drainWriteChan(aliceLU)
	if _, ok := findReply(sent, "263"); !ok {
		t.Fatalf("expected RPL_LOAD2HI on the second rapid remote WHOIS, got %+v", sent)
	}
	if len(sent) != 1 {
		t.Errorf("expected only the throttle reply, got %+v", sent)
	}

	// An operator is never throttled.
	_, daveLU := newTestUser(cb, "dave")
	daveLU.User.Modes['o'] = struct{}{}
	drainWriteChan(daveLU)
	daveLU.whoisCommand(irc.Message{Command: "WHOIS", Params: []string{"rudy"}})
	daveLU.whoisCommand(irc.Message{Command: "WHOIS", Params: []string{"rudy"}})
	sent = drainWriteChan(daveLU)
	if _, ok := findReply(sent, "263"); ok {
		t.Errorf("an operator should never be throttled, got %+v", sent)
	}

	// A local target never triggers the throttle either.
	newTestUser(cb, "erin")
	_, frankLU := newTestUser(cb, "frank")
	drainWriteChan(frankLU)
	frankLU.whoisCommand(irc.Message{Command: "WHOIS", Params: []string{"erin"}})
	frankLU.whoisCommand(irc.Message{Command: "WHOIS", Params: []string{"erin"}})
	sent = drainWriteChan(frankLU)
	if _, ok := findReply(sent, "263"); ok {
		t.Errorf("a local target should never be throttled, got %+v", sent)
	}
}

// Spec §4.13: p/I/y/g/G are self-togglable with no operator privilege,
// and flipping them changes subsequent WHOIS output (here, +p hides the
// target's channel membership from a non-member non-oper).
func TestWhoisCommandSelfTogglableModes(t *testing.T) {
	cb := newTestCatbox()
	bob, bobLU := newTestUser(cb, "bob")

	pub := NewChannel("#pub", time.Now().Unix())
	cb.Channels["#pub"] = pub
	cb.addUserToChannel(pub, bob, false, false, false, false)

	bobLU.userModeCommand(bob, "+p")
	if !bob.hasUMode(UModeHideChans) {
		t.Fatalf("expected +p to set UModeHideChans on bob")
	}

	_, aliceLU := newTestUser(cb, "alice")
	drainWriteChan(aliceLU)
	aliceLU.whoisCommand(irc.Message{Command: "WHOIS", Params: []string{"bob"}})
	sent := drainWriteChan(aliceLU)
	if _, ok := findReply(sent, "319"); ok {
		t.Errorf("expected no RPL_WHOISCHANNELS once bob set +p, got %+v", sent)
	}

	bobLU.userModeCommand(bob, "-p")
	if bob.hasUMode(UModeHideChans) {
		t.Errorf("expected -p to clear UModeHideChans on bob")
	}
}
