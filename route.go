package main

import "github.com/horgh/irc"

// sendtoOne serializes one message to one local peer (spec §4.10). It's a
// thin wrapper over maybeQueueMessage kept here so every routing primitive
// lives in one file.
func sendtoOne(client *LocalClient, m irc.Message) {
	client.maybeQueueMessage(m)
}

// sendtoServer flood-fills m to every linked server except the one it came
// from (spec §4.10). except may be nil to send to all.
func sendtoServer(catbox *Catbox, except *LocalServer, m irc.Message) {
	for _, server := range catbox.LocalServers {
		if except != nil && server == except {
			continue
		}
		server.maybeQueueMessage(m)
	}
}

// sendtoChannelLocal iterates the channel's local-only member view and
// sends to each one, optionally skipping exceptUID (e.g. the user whose
// own action triggered the message, when it already got an explicit reply).
func sendtoChannelLocal(ch *Channel, exceptUID TS6UID, m irc.Message) {
	for uid, member := range ch.MembersLocal {
		if uid == exceptUID {
			continue
		}
		member.User.LocalUser.maybeQueueMessage(m)
	}
}

// sendtoCommonChannelsLocal unions the local neighbors across every channel
// client is in and sends to each exactly once. includeSelf controls whether
// client itself (if local) also receives the message.
func sendtoCommonChannelsLocal(client *User, includeSelf bool, m irc.Message) {
	seen := map[TS6UID]struct{}{}

	for _, ch := range client.Channels {
		for uid, member := range ch.MembersLocal {
			if uid == client.UID && !includeSelf {
				continue
			}
			if _, already := seen[uid]; already {
				continue
			}
			seen[uid] = struct{}{}
			member.User.LocalUser.maybeQueueMessage(m)
		}
	}
}

// checkDirection implements the spec §4.10 direction check: a message
// mutating a remote client must have arrived along that client's current
// route. from is the LocalServer the message arrived on; target is the
// client being mutated.
func checkDirection(from *LocalServer, target *User) bool {
	if target.isLocal() {
		return true
	}
	return target.ClosestServer == from
}
