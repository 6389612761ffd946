package main

import (
	"fmt"

	"github.com/horgh/irc"
)

// User capability bits (IRCv3 CAP), set via the CAP REQ/ACK exchange
// (cap.go). Distinct from LocalServer.Capabs, which tracks the TS6
// CAPAB token set for linked servers.
const (
	CapMultiPrefix = 1 << iota
	CapUserhostInNames
	CapAwayNotify
	CapExtendedJoin
	CapAccountNotify
	CapServerTime
)

var capNames = map[string]int{
	"multi-prefix":       CapMultiPrefix,
	"userhost-in-names":  CapUserhostInNames,
	"away-notify":        CapAwayNotify,
	"extended-join":      CapExtendedJoin,
	"account-notify":     CapAccountNotify,
	"server-time":        CapServerTime,
}

// Flags bitset (spec §3: SERVICE, EXEMPTRESV, GOTID, ...). These are
// distinct from umodes: they are never shown to the client and never
// propagated over the wire.
const (
	FlagService = 1 << iota
	FlagExemptResv
	FlagGotID
	FlagWebIRC
)

// ServiceTag is one services/oper badge line shown in WHOIS output (spec
// §4.13), grounded on ircd-hybrid's struct ServicesTag. Numeric "313"
// means the tag replaces the default RPL_WHOISOPERATOR line entirely
// instead of appearing alongside it. UModesGate, if non-empty, restricts
// the tag to viewers who hold every listed umode (e.g. a tag only opers
// should see); empty means every requester sees it.
type ServiceTag struct {
	Numeric    string
	Text       string
	UModesGate []byte
}

// Additional recognized user mode letters beyond the RFC set (o/i/w/r),
// applied to WHOIS output (spec §4.13). m_whois.c names these by their
// UMODE_* constant but include/*.h (where the umode_tab letter table
// lives) wasn't in the retrieved original_source file set, except for
// CALLERID/SOFTCALLERID whose letters ('g'/'G') are given directly in
// m_whois.c's own reply text. The rest are this tree's own assignment;
// least-grounded of the bunch, alongside the extban numerics in
// DESIGN.md.
const (
	UModeHideChans    = 'p'
	UModeHideIdle     = 'I'
	UModeSpy          = 'y'
	UModeAdmin        = 'a'
	UModeHidden       = 'H'
	UModeCallerID     = 'g'
	UModeSoftCallerID = 'G'
)

// User holds information about a user. It may be remote or local.
type User struct {
	DisplayNick string
	HopCount    int

	// NickTS is tsinfo in spec terms: wall-clock seconds at the most recent
	// nick assignment (initial connect, NICK, or SVSNICK). Participates in
	// TS6 collision arbitration.
	NickTS int64

	Modes map[byte]struct{}

	Username string
	Hostname string

	// Sockhost is the textual IP of the connection, distinct from Hostname,
	// which may be a resolved name. WEBIRC rewrites the connection's IP, so
	// after WEBIRC Sockhost holds the gateway-supplied address.
	Sockhost string
	IP       string

	UID      TS6UID
	RealName string

	// Account is the services account name, "*" when unauthenticated.
	Account string

	// AwayMessage is the current AWAY text, blank if not away.
	AwayMessage string

	// TLSFingerprint is the client certificate fingerprint, blank if the
	// connection isn't using a client cert.
	TLSFingerprint string

	// ServiceTags are ordered service/oper badges applied to WHOIS output
	// (spec §4.13); e.g. a services account tag overriding
	// RPL_WHOISOPERATOR. Grounded on ircd-hybrid's struct ServicesTag
	// (client_svstag.h, referenced from modules/m_whois.c but not itself
	// in the retrieved original_source file set).
	ServiceTags []ServiceTag

	Flags int
	Caps  int

	// Channel name (canonicalized) to Channel.
	Channels map[string]*Channel

	// LocalUser set if this is a local user.
	LocalUser *LocalUser

	// This is the server we heard about the user from. It is not necessarily the
	// server they are on. It could be on a server linked to the one we are
	// linked to.
	ClosestServer *LocalServer

	// This is the server the user is connected to.
	Server *Server
}

func (u *User) String() string {
	return fmt.Sprintf("%s: %s", u.UID, u.nickUhost())
}

func (u *User) nickUhost() string {
	return fmt.Sprintf("%s!%s@%s", u.DisplayNick, u.Username, u.Hostname)
}

func (u *User) isOperator() bool {
	_, exists := u.Modes['o']
	return exists
}

func (u *User) isInvisible() bool {
	_, exists := u.Modes['i']
	return exists
}

func (u *User) isRegistered() bool {
	_, exists := u.Modes['r']
	return exists
}

func (u *User) isAway() bool {
	return len(u.AwayMessage) > 0
}

func (u *User) hasUMode(m byte) bool {
	_, exists := u.Modes[m]
	return exists
}

func (u *User) isAdmin() bool {
	return u.hasUMode(UModeAdmin)
}

// isSecure reports whether the user's connection itself is secure. For a
// local user this is the TLS state of its own connection; a remote user
// carries no such signal across the network in this tree (TS6 UID/MODE
// don't transmit a "secure" umode bit independent of the connection
// itself), so it's always false.
func (u *User) isSecure() bool {
	return u.isLocal() && u.LocalUser.isTLS()
}

func (u *User) hasCap(bit int) bool {
	return u.Caps&bit != 0
}

func (u *User) onChannel(channel *Channel) bool {
	_, exists := u.Channels[channel.Name]
	return exists
}

func (u *User) modesString() string {
	s := "+"
	for m := range u.Modes {
		s += string(m)
	}
	return s
}

func (u *User) isLocal() bool {
	return u.LocalUser != nil
}

func (u *User) isService() bool {
	return u.Flags&FlagService != 0
}

func (u *User) isRemote() bool {
	return !u.isLocal()
}

// messageUser sends a message to target as if from u, writing to target's
// local write channel when target is local, or dropping it silently when
// target is remote (routing a message on to a remote user's server is the
// caller's job via route.go's sendto_* helpers -- messageUser only covers
// the locally-deliverable case, mirroring how the teacher's LocalUser/
// LocalClient methods only ever address locally-connected peers).
func (u *User) messageUser(target *User, command string, params []string) {
	if !target.isLocal() {
		return
	}

	target.LocalUser.maybeQueueMessage(messageFromUser(u, command, params))
}

func messageFromUser(u *User, command string, params []string) irc.Message {
	return irc.Message{
		Prefix:  u.nickUhost(),
		Command: command,
		Params:  params,
	}
}

// matchesMask reports whether u matches the given user@host mask pair,
// where both userMask and hostMask may use '*'/'?' wildcards. Used for
// KLine matching (catbox.go, local_client.go); ban.go has its own matcher.
func (u *User) matchesMask(userMask, hostMask string) bool {
	return wildcardMatch(userMask, u.Username) &&
		(wildcardMatch(hostMask, u.Hostname) || wildcardMatch(hostMask, u.Sockhost) || wildcardMatch(hostMask, u.IP))
}
