package main

import (
	"testing"

	"github.com/horgh/irc"
)

func drainClientWriteChan(c *LocalClient) []messageSent {
	var out []messageSent
	for {
		select {
		case m := <-c.WriteChan:
			out = append(out, messageSent{Command: m.Command, Params: m.Params, Prefix: m.Prefix})
		default:
			return out
		}
	}
}

func TestCAPLSAdvertisesKnownCaps(t *testing.T) {
	cb := newTestCatbox()
	c := newTestLocalClient(cb)

	c.capCommand(irc.Message{Command: "CAP", Params: []string{"LS"}})

	if !c.CapNegotiating {
		t.Errorf("CAP LS should mark the client as negotiating")
	}

	sent := drainClientWriteChan(c)
	if len(sent) != 1 || sent[0].Command != "CAP" {
		t.Fatalf("expected a single CAP reply, got %+v", sent)
	}
	if sent[0].Params[0] != "*" || sent[0].Params[1] != "LS" {
		t.Errorf("CAP LS reply params = %+v, wanted [* LS ...]", sent[0].Params)
	}
	if sent[0].Params[2] != capLSReply {
		t.Errorf("CAP LS reply list = %q, wanted %q", sent[0].Params[2], capLSReply)
	}
}

func TestCAPREQAcceptsKnownCaps(t *testing.T) {
	cb := newTestCatbox()
	c := newTestLocalClient(cb)

	c.capCommand(irc.Message{Command: "CAP", Params: []string{"REQ", "multi-prefix away-notify"}})

	sent := drainClientWriteChan(c)
	if len(sent) != 1 || sent[0].Command != "CAP" || sent[0].Params[1] != "ACK" {
		t.Fatalf("expected a CAP ACK, got %+v", sent)
	}
	if c.Caps&CapMultiPrefix == 0 || c.Caps&CapAwayNotify == 0 {
		t.Errorf("both requested caps should now be set, Caps = %b", c.Caps)
	}
}

func TestCAPREQRejectsUnknownCap(t *testing.T) {
	cb := newTestCatbox()
	c := newTestLocalClient(cb)

	c.capCommand(irc.Message{Command: "CAP", Params: []string{"REQ", "multi-prefix not-a-real-cap"}})

	sent := drainClientWriteChan(c)
	if len(sent) != 1 || sent[0].Params[1] != "NAK" {
		t.Fatalf("an unrecognized capability should NAK the whole request, got %+v", sent)
	}
	if c.Caps&CapMultiPrefix != 0 {
		t.Errorf("no caps should be set when the REQ is NAK'd, even the known one")
	}
}

func TestCAPREQRemovesCapWithMinusPrefix(t *testing.T) {
	cb := newTestCatbox()
	c := newTestLocalClient(cb)
	c.Caps = CapMultiPrefix | CapAwayNotify

	c.capCommand(irc.Message{Command: "CAP", Params: []string{"REQ", "-away-notify"}})

	if c.Caps&CapAwayNotify != 0 {
		t.Errorf("a -prefixed cap in REQ should be cleared")
	}
	if c.Caps&CapMultiPrefix == 0 {
		t.Errorf("unrelated caps should be untouched by a -prefixed REQ")
	}
}

func TestCAPLISTReflectsEnabledCaps(t *testing.T) {
	cb := newTestCatbox()
	c := newTestLocalClient(cb)
	c.Caps = CapServerTime

	c.capCommand(irc.Message{Command: "CAP", Params: []string{"LIST"}})

	sent := drainClientWriteChan(c)
	if len(sent) != 1 || sent[0].Params[2] != "server-time" {
		t.Errorf("CAP LIST should report only the enabled caps, got %+v", sent)
	}
}

// CAP END completes registration once NICK and USER are both in, holding
// registration open while negotiation is in progress beforehand.
func TestCAPENDCompletesPendingRegistration(t *testing.T) {
	cb := newTestCatbox()
	c := newTestLocalClient(cb)
	c.CapNegotiating = true
	c.PreRegDisplayNick = "alice"
	c.PreRegUser = "alice"

	c.capCommand(irc.Message{Command: "CAP", Params: []string{"END"}})

	if c.CapNegotiating {
		t.Errorf("CAP END should clear CapNegotiating")
	}

	uid, exists := cb.Nicks[canonicalizeNick("alice")]
	if !exists {
		t.Fatalf("registration should have completed on CAP END")
	}
	if _, exists := cb.Users[uid]; !exists {
		t.Errorf("a User should now exist for alice")
	}
}

func TestCAPUnknownSubcommand(t *testing.T) {
	cb := newTestCatbox()
	c := newTestLocalClient(cb)

	c.capCommand(irc.Message{Command: "CAP", Params: []string{"BOGUS"}})

	sent := drainClientWriteChan(c)
	if len(sent) != 1 || sent[0].Command != "410" {
		t.Errorf("an unrecognized CAP subcommand should yield 410, got %+v", sent)
	}
}
