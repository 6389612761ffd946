package main

import (
	"fmt"
	"strconv"

	"github.com/horgh/irc"
)

// findPendingRegistrationByNick looks for a LocalClient that has claimed
// canon via NICK but hasn't yet completed registration into a full User
// (spec §3's "unknown-during-registration" kind), returning it or nil.
func findPendingRegistrationByNick(cb *Catbox, canon string) *LocalClient {
	for _, c := range cb.LocalClients {
		if len(c.PreRegDisplayNick) > 0 && canonicalizeNick(c.PreRegDisplayNick) == canon {
			return c
		}
	}
	return nil
}

// svsnickCommand forces a nickname change, issued by a services pseudo-client
// after it resolves a nick dispute. Grounded on ms_svsnick in ircd-hybrid:
// it supports both the legacy 4-parameter form and the newer 3-parameter
// form (parc 5 and 4 in the C original), forwards unchanged toward a remote target, and re-sends the rename
// as a plain NICK rather than propagating SVSNICK itself once it lands.
//
// Legacy parameters: <old nick> <old TS> <new nick> <new TS>
// Current parameters: <old nick> <new nick> <new TS>
func (s *LocalServer) svsnickCommand(m irc.Message) {
	// ArgsMin=3 in the command table enforces the parameter count.

	source, exists := s.Catbox.Users[TS6UID(m.Prefix)]
	if !exists || !source.isService() {
		return
	}

	legacy := len(m.Params) == 4

	var newNick string
	if legacy {
		newNick = m.Params[2]
	} else {
		newNick = m.Params[1]
	}

	if !isValidNick(s.Catbox.Config.MaxNickLength, newNick) {
		return
	}

	target, exists := s.Catbox.Users[s.Catbox.Nicks[canonicalizeNick(m.Params[0])]]
	if !exists {
		return
	}

	var newTS int64
	if legacy {
		oldTS, err := strconv.ParseInt(m.Params[1], 10, 64)
		if err == nil && oldTS != 0 && oldTS != target.NickTS {
			// Stale view of the target's TS; services should re-issue.
			return
		}
		newTS, _ = strconv.ParseInt(m.Params[3], 10, 64)
	} else {
		newTS, _ = strconv.ParseInt(m.Params[2], 10, 64)
	}

	// Not ours to act on yet; forward toward the target unchanged, unless
	// the target lies behind the same uplink the command arrived from (a
	// loop the spec §4.8/§4.10 direction check exists to catch).
	if !target.isLocal() {
		if target.ClosestServer == s {
			s.Catbox.noticeLocalOpers(fmt.Sprintf(
				"Dropping SVSNICK for %s from %s: wrong direction",
				target.DisplayNick, s.Server.Name))
			return
		}
		target.ClosestServer.maybeQueueMessage(m)
		return
	}

	// An UNKNOWN-state client (mid-registration, not yet promoted to a
	// User) holding the target nick never reserved it in Catbox.Nicks;
	// find it by its pending NICK claim instead.
	if pending := findPendingRegistrationByNick(s.Catbox, canonicalizeNick(newNick)); pending != nil {
		pending.quit("SVSNICK Override")
	} else if collidedUID, exists := s.Catbox.Nicks[canonicalizeNick(newNick)]; exists {
		if collidedUID == target.UID {
			if target.DisplayNick == newNick {
				return
			}
		} else {
			s.Catbox.issueKill(target, "SVSNICK Collide")
			return
		}
	}

	oldDisplayNick := target.DisplayNick
	oldUhost := target.nickUhost()
	delete(s.Catbox.Nicks, canonicalizeNick(oldDisplayNick))
	target.DisplayNick = newNick
	target.NickTS = newTS
	s.Catbox.Nicks[canonicalizeNick(newNick)] = target.UID

	for _, channel := range target.Channels {
		channel.invalidateBanCache()
	}

	// 601/600 RPL_LOGOFF / RPL_LOGON
	s.Catbox.Watch.watchCheckHash(oldDisplayNick, "601",
		[]string{oldDisplayNick, target.Username, target.Hostname,
			fmt.Sprintf("%d", newTS), "logged off"}, s.Catbox)
	s.Catbox.Watch.watchCheckHash(newNick, "600",
		[]string{newNick, target.Username, target.Hostname,
			fmt.Sprintf("%d", newTS), "logged on"}, s.Catbox)

	if _, wasRegistered := target.Modes['r']; wasRegistered {
		delete(target.Modes, 'r')
		target.LocalUser.maybeQueueMessage(irc.Message{
			Prefix:  oldUhost,
			Command: "MODE",
			Params:  []string{oldDisplayNick, "-r"},
		})
	}

	target.LocalUser.maybeQueueMessage(irc.Message{
		Prefix:  oldUhost,
		Command: "NICK",
		Params:  []string{newNick},
	})

	toldUsers := map[TS6UID]struct{}{target.UID: {}}
	for _, channel := range target.Channels {
		for memberUID, member := range channel.Members {
			if _, told := toldUsers[memberUID]; told {
				continue
			}
			toldUsers[memberUID] = struct{}{}
			if !member.User.isLocal() {
				continue
			}
			member.User.LocalUser.maybeQueueMessage(irc.Message{
				Prefix:  oldUhost,
				Command: "NICK",
				Params:  []string{newNick},
			})
		}
	}

	// The rename itself propagates as NICK, not SVSNICK, once applied.
	for _, server := range s.Catbox.LocalServers {
		server.maybeQueueMessage(irc.Message{
			Prefix:  string(target.UID),
			Command: "NICK",
			Params:  []string{newNick, fmt.Sprintf("%d", newTS)},
		})
	}
}
