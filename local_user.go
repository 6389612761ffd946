package main

import (
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/horgh/irc"
)

// LocalUser holds information relevant only to a regular user (non-server)
// client.
type LocalUser struct {
	*LocalClient

	User *User

	// The last time we heard anything from the client.
	LastActivityTime time.Time

	// The last time we sent the client a PING.
	LastPingTime time.Time

	// The last time the client sent a PRIVMSG/NOTICE. We use this to decide
	// idle time.
	LastMessageTime time.Time

	// Watches is the set of (canonicalized) nicks this client is watching,
	// the inverse side of WatchTable's per-entry subscriber set.
	Watches map[string]struct{}
}

// NewLocalUser makes a LocalUser from a LocalClient.
func NewLocalUser(c *LocalClient) *LocalUser {
	now := time.Now()

	u := &LocalUser{
		LocalClient:      c,
		LastActivityTime: now,
		LastPingTime:     now,
		LastMessageTime:  now,
		Watches:          make(map[string]struct{}),
	}

	return u
}

func (u *LocalUser) String() string {
	return u.User.String()
}

func (u *LocalUser) getLastActivityTime() time.Time {
	return u.LastActivityTime
}

func (u *LocalUser) getLastPingTime() time.Time {
	return u.LastPingTime
}

func (u *LocalUser) setLastPingTime(t time.Time) {
	u.LastPingTime = t
}

func (u *LocalUser) notice(s string) {
	u.messageFromServer("NOTICE", []string{
		u.User.DisplayNick,
		fmt.Sprintf("*** Notice --- %s", s),
	})
}

// Make TS6 UID. UID = SID concatenated with ID
func (u *LocalUser) makeTS6UID(id uint64) (TS6UID, error) {
	ts6id, err := makeTS6ID(u.ID)
	if err != nil {
		return TS6UID(""), err
	}

	return TS6UID(u.Catbox.Config.TS6SID + string(ts6id)), nil
}

// Send an IRC message to a client. Appears to be from the server.
// This works by writing to a client's channel.
//
// Note: Only the server goroutine should call this (due to channel use).
func (u *LocalUser) messageFromServer(command string, params []string) {
	// For numeric messages, we need to prepend the nick.
	if isNumericCommand(command) {
		newParams := []string{u.User.DisplayNick}
		newParams = append(newParams, params...)
		params = newParams
	}

	u.maybeQueueMessage(irc.Message{
		Prefix:  u.Catbox.Config.ServerName,
		Command: command,
		Params:  params,
	})
}

// part tries to remove the client from the channel.
//
// We send a reply to the client. We also inform any other clients that need to
// know.
//
// NOTE: Only the server goroutine should call this (as we interact with its
//   member variables).
func (u *LocalUser) part(channelName, message string) {
	// NOTE: Difference from RFC 2812: I only accept one channel at a time.
	channelName = canonicalizeChannel(channelName)

	if !isValidChannel(channelName) {
		// 403 ERR_NOSUCHCHANNEL. Used to indicate channel name is invalid.
		u.messageFromServer("403", []string{channelName, "Invalid channel name"})
		return
	}

	// Find the channel.
	channel, exists := u.Catbox.Channels[channelName]
	if !exists {
		// 403 ERR_NOSUCHCHANNEL. Used to indicate channel name is invalid.
		u.messageFromServer("403", []string{channelName, "No such channel"})
		return
	}

	// Are they on the channel?
	if !u.User.onChannel(channel) {
		// 403 ERR_NOSUCHCHANNEL. Used to indicate channel name is invalid.
		u.messageFromServer("403", []string{channelName, "You are not on that channel"})
		return
	}

	// Tell everyone (including the client) about the part.
	for memberUID := range channel.Members {
		params := []string{channelName}

		// Add part message.
		if len(message) > 0 {
			params = append(params, message)
		}

		member := u.Catbox.Users[memberUID]

		// From the client to each member.
		u.User.messageUser(member, "PART", params)
	}

	// Remove the client from the channel.
	empty := removeUserFromChannel(channel, u.User.UID)
	delete(u.User.Channels, channel.Name)

	// If they are the last member, then drop the channel completely.
	if empty {
		delete(u.Catbox.Channels, channel.Name)
	}
}

// Note: Only the server goroutine should call this (due to closing channel).
//
// tellServers controls whether we propagate the QUIT to linked servers.
// A normal client-initiated quit propagates it. A KILL does not: the KILL
// message itself already told linked servers the user is gone.
func (u *LocalUser) quit(msg string, tellServers bool) {
	// May already be cleaning up.
	_, exists := u.Catbox.LocalUsers[u.ID]
	if !exists {
		return
	}

	// Tell all clients the client is in the channel with, and remove the client
	// from each channel it is in.

	// Tell each client only once.

	toldClients := map[TS6UID]struct{}{}

	for _, channel := range u.User.Channels {
		for memberUID := range channel.Members {
			_, exists := toldClients[memberUID]
			if exists {
				continue
			}

			member := u.Catbox.Users[memberUID]

			u.User.messageUser(member, "QUIT", []string{msg})

			toldClients[memberUID] = struct{}{}
		}

		if removeUserFromChannel(channel, u.User.UID) {
			delete(u.Catbox.Channels, channel.Name)
		}
	}

	// Ensure we tell the client (e.g., if in no channels).
	_, exists = toldClients[u.User.UID]
	if !exists {
		u.User.messageUser(u.User, "QUIT", []string{msg})
	}

	u.messageFromServer("ERROR", []string{msg})

	close(u.WriteChan)

	delete(u.Catbox.Nicks, canonicalizeNick(u.User.DisplayNick))

	delete(u.Catbox.LocalUsers, u.ID)
	delete(u.Catbox.Users, u.User.UID)

	if u.User.isOperator() {
		delete(u.Catbox.Opers, u.User.UID)
	}

	// 601 RPL_LOGOFF
	u.Catbox.Watch.watchCheckHash(u.User.DisplayNick, "601",
		[]string{u.User.DisplayNick, u.User.Username, u.User.Hostname,
			fmt.Sprintf("%d", time.Now().Unix()), "logged off"}, u.Catbox)
	u.Catbox.Watch.watchDelAll(u)

	if tellServers {
		for _, server := range u.Catbox.LocalServers {
			server.maybeQueueMessage(irc.Message{
				Prefix:  string(u.User.UID),
				Command: "QUIT",
				Params:  []string{msg},
			})
		}
	}
}

// handleMessage takes action based on a client's IRC message, routing it
// through the static dispatch table (spec §4.2/§9, dispatch.go). DIE and
// CONNECT carry no kindClient handler at all; they're registered only in
// the table's kindOper slot, so dispatchCommand itself produces the 481
// for a non-operator rather than each handler checking isOperator().
func (u *LocalUser) handleMessage(m irc.Message) {
	// Record that client said something to us just now.
	u.LastActivityTime = time.Now()

	// Clients SHOULD NOT (section 2.3) send a prefix. I'm going to disallow it
	// completely for all commands.
	if m.Prefix != "" {
		u.messageFromServer("ERROR", []string{"Do not send a prefix"})
		return
	}

	if dispatchCommand(kindClient, u, m) {
		return
	}

	// Unknown command. We don't handle it yet anyway.

	// 421 ERR_UNKNOWNCOMMAND
	u.messageFromServer("421", []string{m.Command, "Unknown command"})
}

// The NICK command to happen both at connection registration time and
// after. There are different rules.
func (u *LocalUser) nickCommand(m irc.Message) {
	// We should have one parameter: The nick they want.
	if len(m.Params) == 0 {
		// 431 ERR_NONICKNAMEGIVEN
		u.messageFromServer("431", []string{"No nickname given"})
		return
	}
	nick := m.Params[0]

	if len(nick) > u.Catbox.Config.MaxNickLength {
		nick = nick[0:u.Catbox.Config.MaxNickLength]
	}

	if !isValidNick(u.Catbox.Config.MaxNickLength, nick) {
		// 432 ERR_ERRONEUSNICKNAME
		u.messageFromServer("432", []string{nick, "Erroneous nickname"})
		return
	}

	nickCanon := canonicalizeNick(nick)

	// Nick must be unique.
	_, exists := u.Catbox.Nicks[nickCanon]
	if exists {
		// 433 ERR_NICKNAMEINUSE
		u.messageFromServer("433", []string{nick, "Nickname is already in use"})
		return
	}

	// Flag the nick as taken by this client.
	u.Catbox.Nicks[nickCanon] = u.User.UID
	oldDisplayNick := u.User.DisplayNick

	// Free the old nick.
	delete(u.Catbox.Nicks, canonicalizeNick(oldDisplayNick))

	// We need to inform other clients about the nick change.
	// Any that are in the same channel as this client.
	informedClients := map[TS6UID]struct{}{}
	for _, channel := range u.User.Channels {
		for memberUID := range channel.Members {
			// Tell each client only once.
			_, exists := informedClients[memberUID]
			if exists {
				continue
			}

			member := u.Catbox.Users[memberUID]

			// Message needs to come from the OLD nick.
			u.User.messageUser(member, "NICK", []string{nick})
			informedClients[member.UID] = struct{}{}
		}
	}

	// Reply to the client. We should have above, but if they were not on any
	// channels then we did not.
	_, exists = informedClients[u.User.UID]
	if !exists {
		u.User.messageUser(u.User, "NICK", []string{nick})
	}

	// Finally, make the update. Do this last as we need to ensure we act
	// as the old nick when crafting messages.
	u.User.DisplayNick = nick
	u.User.NickTS = time.Now().Unix()

	for _, channel := range u.User.Channels {
		channel.invalidateBanCache()
	}

	// 601/600 RPL_LOGOFF / RPL_LOGON
	u.Catbox.Watch.watchCheckHash(oldDisplayNick, "601",
		[]string{oldDisplayNick, u.User.Username, u.User.Hostname,
			fmt.Sprintf("%d", u.User.NickTS), "logged off"}, u.Catbox)
	u.Catbox.Watch.watchCheckHash(nick, "600",
		[]string{nick, u.User.Username, u.User.Hostname,
			fmt.Sprintf("%d", u.User.NickTS), "logged on"}, u.Catbox)

	for _, server := range u.Catbox.LocalServers {
		server.maybeQueueMessage(irc.Message{
			Prefix:  string(u.User.UID),
			Command: "NICK",
			Params:  []string{nick, fmt.Sprintf("%d", u.User.NickTS)},
		})
	}
}

// watchCommand implements the WATCH command (spec §4.12): +name subscribes,
// -name unsubscribes, bare "l"/"L" lists, "C" clears.
func (u *LocalUser) watchCommand(m irc.Message) {
	for _, param := range m.Params {
		if len(param) == 0 {
			continue
		}

		switch param[0] {
		case '+':
			u.Catbox.Watch.watchAdd(param[1:], u)
		case '-':
			u.Catbox.Watch.watchDel(param[1:], u)
		case 'C', 'c':
			u.Catbox.Watch.watchDelAll(u)
		case 'L', 'l':
			for name := range u.Watches {
				// 606 RPL_WATCHLIST-ish enumeration entry.
				u.messageFromServer("606", []string{name})
			}
			u.messageFromServer("607", []string{"End of WATCH list"})
		}
	}
}

// The USER command only occurs during connection registration.
func (u *LocalUser) userCommand(m irc.Message) {
	// 462 ERR_ALREADYREGISTRED
	u.messageFromServer("462", []string{"Unauthorized command (already registered)"})
}

func (u *LocalUser) joinCommand(m irc.Message) {
	// Parameters: ( <channel> *( "," <channel> ) [ <key> *( "," <key> ) ] ) / "0"

	if len(m.Params) == 0 {
		// 461 ERR_NEEDMOREPARAMS
		u.messageFromServer("461", []string{"JOIN", "Not enough parameters"})
		return
	}

	// JOIN 0 is a special case. Client leaves all channels.
	if len(m.Params) == 1 && m.Params[0] == "0" {
		for _, channel := range u.User.Channels {
			u.part(channel.Name, "")
		}
		return
	}

	// Again, we could check if there are too many parameters, but we just
	// ignore them.

	// NOTE: I choose to not support comma separated channels. RFC 2812
	//   allows multiple channels in a single command.

	channelName := canonicalizeChannel(m.Params[0])
	if !isValidChannel(channelName) {
		// 403 ERR_NOSUCHCHANNEL. Used to indicate channel name is invalid.
		u.messageFromServer("403", []string{channelName, "Invalid channel name"})
		return
	}

	key := ""
	if len(m.Params) > 1 {
		key = m.Params[1]
	}

	// Is the client in the channel already?
	if u.User.onChannel(&Channel{Name: channelName}) {
		// 443 ERR_USERONCHANNEL
		// This error code is supposed to be for inviting a user on a channel
		// already, but it works.
		u.messageFromServer("443", []string{u.User.DisplayNick, channelName,
			"is already on channel"})
		return
	}

	// Look up / create the channel
	channel, exists := u.Catbox.Channels[channelName]
	isNewChannel := !exists
	if !exists {
		channel = NewChannel(channelName, time.Now().Unix())
		u.Catbox.Channels[channelName] = channel
	} else if numeric, args := canJoinChannel(channel, u.User, key); numeric != "" {
		u.messageFromServer(numeric, args)
		return
	}

	// First joiner of a new channel gets chanop, per spec §4.4.
	member := u.Catbox.addUserToChannel(channel, u.User, isNewChannel, false, false, true)

	// Tell the client about the join. This is what RFC says to send:
	// Send JOIN, RPL_TOPIC, and RPL_NAMREPLY.

	// JOIN comes from the client, to the client.
	u.User.messageUser(u.User, "JOIN", []string{channel.Name})

	// If this is a new channel, send them the modes we set by default.
	if isNewChannel {
		channel.setMode(ChanModeNoExternalMsgs)
		channel.setMode(ChanModeTopicLimit)
		u.messageFromServer("MODE", []string{channel.Name, channel.modeString()})
	}

	// It appears RPL_TOPIC is optional, at least ircd-ratbox does not send it.
	// Presumably if there is no topic.
	if len(channel.Topic) > 0 {
		// 332 RPL_TOPIC
		u.messageFromServer("332", []string{channel.Name, channel.Topic})
	}

	channelFlag := "="
	if channel.hasMode(ChanModeSecret) {
		channelFlag = "@"
	} else if channel.hasMode(ChanModePrivate) {
		channelFlag = "*"
	}

	multiPrefix := u.Caps&capNames["multi-prefix"] != 0
	userhostInNames := u.Caps&capNames["userhost-in-names"] != 0

	// RPL_NAMREPLY / RPL_ENDOFNAMES: who is in the channel (including the
	// client itself).
	for _, line := range channelMemberNames(channel, u.User, multiPrefix, userhostInNames) {
		// 353 RPL_NAMREPLY
		u.messageFromServer("353", []string{channelFlag, channel.Name, line})
	}

	// 366 RPL_ENDOFNAMES
	u.messageFromServer("366", []string{channel.Name, "End of NAMES list"})

	// Tell each other member in the channel about the client.
	for _, other := range channel.Members {
		if other.User.UID == u.User.UID {
			continue
		}

		u.User.messageUser(other.User, "JOIN", []string{channel.Name})
	}

	// Propagate to linked servers via SJOIN.
	prefix := member.prefix()
	for _, server := range u.Catbox.LocalServers {
		server.maybeQueueMessage(irc.Message{
			Prefix:  u.Catbox.Config.TS6SID,
			Command: "SJOIN",
			Params: []string{fmt.Sprintf("%d", channel.TS), channel.Name,
				channel.modeString(), fmt.Sprintf(":%s%s", prefix, u.User.UID)},
		})
	}
}

func (u *LocalUser) partCommand(m irc.Message) {
	// Parameters: <channel> *( "," <channel> ) [ <Part Message> ]
	// ArgsMin=1 in the command table enforces the parameter count.

	// Again, we don't raise error if there are too many parameters.

	partMessage := ""
	if len(m.Params) >= 2 {
		partMessage = m.Params[1]
	}

	u.part(m.Params[0], partMessage)
}

// Per RFC 2812, PRIVMSG and NOTICE are essentially the same, so both PRIVMSG
// and NOTICE use this command function.
func (u *LocalUser) privmsgCommand(m irc.Message) {
	// Parameters: <msgtarget> <text to be sent>

	if len(m.Params) == 0 {
		// 411 ERR_NORECIPIENT
		u.messageFromServer("411", []string{"No recipient given (PRIVMSG)"})
		return
	}

	if len(m.Params) == 1 {
		// 412 ERR_NOTEXTTOSEND
		u.messageFromServer("412", []string{"No text to send"})
		return
	}

	// I don't check if there are too many parameters. They get ignored anyway.

	target := m.Params[0]

	msg := m.Params[1]

	// The message may be too long once we add the prefix/encode the message.
	// Strip any trailing characters until it's short enough.
	// TODO: Other messages can have this problem too (PART, QUIT, etc...)
	msgLen := len(":") + len(u.User.nickUhost()) + len(" ") + len(m.Command) +
		len(" ") + len(target) + len(" ") + len(":") + len(msg) + len("\r\n")
	if msgLen > irc.MaxLineLength {
		trimCount := msgLen - irc.MaxLineLength
		msg = msg[:len(msg)-trimCount]
	}

	// I only support # channels right now.

	if target[0] == '#' {
		channelName := canonicalizeChannel(target)
		if !isValidChannel(channelName) {
			// 404 ERR_CANNOTSENDTOCHAN
			u.messageFromServer("404", []string{channelName, "Cannot send to channel"})
			return
		}

		channel, exists := u.Catbox.Channels[channelName]
		if !exists {
			// 403 ERR_NOSUCHCHANNEL
			u.messageFromServer("403", []string{channelName, "No such channel"})
			return
		}

		if numeric, args := canSendChannel(channel, u.User, m.Command == "NOTICE", msg); numeric != "" {
			u.messageFromServer(numeric, args)
			return
		}

		u.LastMessageTime = time.Now()

		// Send to all members of the channel. Except the client itself it seems.
		for memberUID := range channel.Members {
			if memberUID == u.User.UID {
				continue
			}

			member := u.Catbox.Users[memberUID]

			// From the client to each member.
			u.User.messageUser(member, m.Command, []string{channel.Name, msg})
		}

		return
	}

	// We're messaging a nick directly.

	nickName := canonicalizeNick(target)
	if !isValidNick(u.Catbox.Config.MaxNickLength, nickName) {
		// 401 ERR_NOSUCHNICK
		u.messageFromServer("401", []string{nickName, "No such nick/channel"})
		return
	}

	targetUID, exists := u.Catbox.Nicks[nickName]
	if !exists {
		// 401 ERR_NOSUCHNICK
		u.messageFromServer("401", []string{nickName, "No such nick/channel"})
		return
	}
	targetUser := u.Catbox.Users[targetUID]

	u.LastMessageTime = time.Now()

	u.User.messageUser(targetUser, m.Command, []string{nickName, msg})
}

func (u *LocalUser) lusersCommand() {
	// We always send RPL_LUSERCLIENT and RPL_LUSERME.
	// The others only need be sent if the counts are non-zero.

	// 251 RPL_LUSERCLIENT
	u.messageFromServer("251", []string{
		fmt.Sprintf("There are %d users and %d services on %d servers.",
			len(u.Catbox.Users),
			0,
			// +1 to count ourself.
			len(u.Catbox.Servers)+1),
	})

	// 252 RPL_LUSEROP
	operCount := 0
	for _, user := range u.Catbox.Users {
		if user.isOperator() {
			operCount++
		}
	}
	if operCount > 0 {
		// 252 RPL_LUSEROP
		u.messageFromServer("252", []string{
			fmt.Sprintf("%d", operCount),
			"operator(s) online",
		})
	}

	// 253 RPL_LUSERUNKNOWN
	// Unregistered connections.
	numUnknown := len(u.Catbox.LocalClients)
	if numUnknown > 0 {
		u.messageFromServer("253", []string{
			fmt.Sprintf("%d", numUnknown),
			"unknown connection(s)",
		})
	}

	// 254 RPL_LUSERCHANNELS
	// RFC 2811 says to not include +s channels in this count. But I do.
	if len(u.Catbox.Channels) > 0 {
		u.messageFromServer("254", []string{
			fmt.Sprintf("%d", len(u.Catbox.Channels)),
			"channels formed",
		})
	}

	// 255 RPL_LUSERME
	u.messageFromServer("255", []string{
		fmt.Sprintf("I have %d clients and %d servers",
			len(u.Catbox.LocalUsers), len(u.Catbox.LocalServers)),
	})
}

func (u *LocalUser) motdCommand() {
	// 375 RPL_MOTDSTART
	u.messageFromServer("375", []string{
		fmt.Sprintf("- %s Message of the day - ", u.Catbox.Config.ServerName),
	})

	// 372 RPL_MOTD
	u.messageFromServer("372", []string{
		fmt.Sprintf("- %s", u.Catbox.Config.MOTD),
	})

	// 376 RPL_ENDOFMOTD
	u.messageFromServer("376", []string{"End of MOTD command"})
}

func (u *LocalUser) quitCommand(m irc.Message) {
	msg := "Quit:"
	if len(m.Params) > 0 {
		msg += " " + m.Params[0]
	}

	u.quit(msg, true)
}

func (u *LocalUser) pingCommand(m irc.Message) {
	// Parameters: <server> (I choose to not support forwarding)
	if len(m.Params) == 0 {
		// 409 ERR_NOORIGIN
		u.messageFromServer("409", []string{"No origin specified"})
		return
	}

	server := m.Params[0]

	if server != u.Catbox.Config.ServerName {
		// 402 ERR_NOSUCHSERVER
		u.messageFromServer("402", []string{server, "No such server"})
		return
	}

	u.messageFromServer("PONG", []string{server})
}

func (u *LocalUser) dieCommand(m irc.Message) {
	// Registered only in the command table's kindOper slot; dispatch
	// already turned away any non-operator before reaching here.

	// die is not an RFC command. I use it to shut down the server.
	u.Catbox.shutdown()
}

// whoisChannelVisibility reports whether asker should see target's
// membership in channel in a WHOIS reply, and whether it should carry
// the oper-only "~" marker. Mirrors m_whois.c's whois_can_see_channels:
// 0 not shown, 1 shown plainly, 2 shown with the oper-only marker.
func whoisChannelVisibility(channel *Channel, asker, target *User) int {
	public := !channel.hasMode(ChanModeSecret) && !channel.hasMode(ChanModePrivate)
	if public && !target.hasUMode(UModeHideChans) {
		return 1
	}
	if asker.UID == target.UID || asker.onChannel(channel) {
		return 1
	}
	if asker.isOperator() {
		return 2
	}
	return 0
}

// whoisCommand implements RPL_WHOIS* reply assembly (spec §4.13), grounded
// on ircd-hybrid's modules/m_whois.c whois_person/do_whois/m_whois. This
// tree doesn't hunt a WHOIS toward a named target server the way the
// original does (no multi-server command routing for the query itself);
// taking the last parameter as the nickname still accepts both "WHOIS
// nick" and "WHOIS server nick" on the wire without a separate server-hunt
// path. The pace_wait_simple throttle is instead applied to looking up a
// non-local target, since that is this tree's analogue of "this is going
// across servers" in the original's m_whois.
func (u *LocalUser) whoisCommand(m irc.Message) {
	if len(m.Params) == 0 {
		// 431 ERR_NONICKNAMEGIVEN
		u.messageFromServer("431", []string{"No nickname given"})
		return
	}

	nick := m.Params[len(m.Params)-1]
	nickCanonical := canonicalizeNick(nick)

	targetUID, exists := u.Catbox.Nicks[nickCanonical]
	if !exists {
		// 401 ERR_NOSUCHNICK
		u.messageFromServer("401", []string{nick, "No such nick/channel"})
		// 318 RPL_ENDOFWHOIS
		u.messageFromServer("318", []string{nick, "End of WHOIS list"})
		return
	}
	targetUser := u.Catbox.Users[targetUID]

	if !targetUser.isLocal() && !u.User.isOperator() {
		now := time.Now()
		if u.Catbox.Config.PaceWaitSimple > 0 &&
			now.Sub(u.Catbox.LastWhoisTime) < u.Catbox.Config.PaceWaitSimple {
			// 263 RPL_LOAD2HI
			u.messageFromServer("263", []string{"WHOIS", "This server is too busy to process your request"})
			return
		}
		u.Catbox.LastWhoisTime = now
	}

	// 311 RPL_WHOISUSER
	u.messageFromServer("311", []string{
		targetUser.DisplayNick,
		targetUser.Username,
		targetUser.Hostname,
		"*",
		targetUser.RealName,
	})

	// 319 RPL_WHOISCHANNELS
	var shownChannels []string
	for _, channel := range targetUser.Channels {
		member := channel.findMember(targetUser.UID)
		switch whoisChannelVisibility(channel, u.User, targetUser) {
		case 1:
			shownChannels = append(shownChannels, member.prefix()+channel.Name)
		case 2:
			shownChannels = append(shownChannels, "~"+member.prefix()+channel.Name)
		}
	}
	if len(shownChannels) > 0 {
		u.messageFromServer("319", []string{
			targetUser.DisplayNick,
			strings.Join(shownChannels, " "),
		})
	}

	// 312 RPL_WHOISSERVER: hidden-server rewriting for non-opers/non-self.
	serverName := u.Catbox.Config.ServerName
	serverInfo := u.Catbox.Config.ServerInfo
	if u.Catbox.Config.HideServers && u.User.UID != targetUser.UID && !u.User.isOperator() {
		serverName = u.Catbox.Config.HiddenServerName
		serverInfo = "Hidden"
	}
	u.messageFromServer("312", []string{
		targetUser.DisplayNick,
		serverName,
		serverInfo,
	})

	// 307 RPL_WHOISREGNICK
	if targetUser.isRegistered() {
		u.messageFromServer("307", []string{
			targetUser.DisplayNick,
			"has identified for this nick",
		})
	}

	// 330 RPL_WHOISACCOUNT
	if targetUser.Account != "*" {
		u.messageFromServer("330", []string{
			targetUser.DisplayNick,
			targetUser.Account,
			"is logged in as",
		})
	}

	// 301 RPL_AWAY
	if targetUser.isAway() {
		u.messageFromServer("301", []string{
			targetUser.DisplayNick,
			targetUser.AwayMessage,
		})
	}

	// 379 RPL_TARGUMODEG
	if targetUser.hasUMode(UModeCallerID) || targetUser.hasUMode(UModeSoftCallerID) {
		callerID := targetUser.hasUMode(UModeCallerID)
		mode, text := "+G", "server side ignore with the exception of common channels"
		if callerID {
			mode, text = "+g", "server side ignore"
		}
		u.messageFromServer("379", []string{targetUser.DisplayNick, mode, text})
	}

	// 313 RPL_WHOISOPERATOR, unless a service tag overrides it.
	overridesOperLine := len(targetUser.ServiceTags) > 0 && targetUser.ServiceTags[0].Numeric == "313"
	if (targetUser.isOperator() || targetUser.isService()) && !overridesOperLine {
		if !targetUser.hasUMode(UModeHidden) || u.User.isOperator() {
			text := "is an IRC operator"
			if targetUser.isService() {
				text = "is a Network Service"
			} else if targetUser.isAdmin() {
				text = "is a Server Administrator"
			}
			u.messageFromServer("313", []string{targetUser.DisplayNick, text})
		}
	}

	// Service tags: each respects its own umodes gate; the numeric "313"
	// tag is hidden from non-opers when the target is UModeHidden, same
	// as the default operator line it replaces.
	for _, tag := range targetUser.ServiceTags {
		if tag.Numeric == "313" && targetUser.hasUMode(UModeHidden) && !u.User.isOperator() {
			continue
		}
		gated := false
		for _, gate := range tag.UModesGate {
			if !u.User.hasUMode(gate) {
				gated = true
				break
			}
		}
		if gated {
			continue
		}
		u.messageFromServer(tag.Numeric, []string{targetUser.DisplayNick, tag.Text})
	}

	// 320 RPL_WHOISTEXT: WEBIRC gateway notice.
	if targetUser.Flags&FlagWebIRC != 0 {
		u.messageFromServer("320", []string{
			targetUser.DisplayNick,
			"User connected using a webirc gateway",
		})
	}

	// 310 RPL_WHOISMODES / 338 RPL_WHOISACTUALLY: opers and self only.
	if u.User.isOperator() || u.User.UID == targetUser.UID {
		u.messageFromServer("310", []string{targetUser.DisplayNick, targetUser.modesString()})

		sockhost := targetUser.Sockhost
		if len(sockhost) == 0 {
			sockhost = targetUser.IP
		}
		u.messageFromServer("338", []string{
			targetUser.DisplayNick,
			targetUser.Username,
			targetUser.Hostname,
			sockhost,
		})
	}

	// 671 RPL_WHOISSECURE
	if targetUser.isSecure() {
		u.messageFromServer("671", []string{targetUser.DisplayNick, "is using a secure connection"})
	}

	// 276 RPL_WHOISCERTFP: opers and self only.
	if len(targetUser.TLSFingerprint) > 0 && (u.User.isOperator() || u.User.UID == targetUser.UID) {
		u.messageFromServer("276", []string{
			targetUser.DisplayNick,
			fmt.Sprintf("has client certificate fingerprint %s", targetUser.TLSFingerprint),
		})
	}

	// 317 RPL_WHOISIDLE: local targets only, hideable by the target.
	if targetUser.LocalUser != nil &&
		(!targetUser.hasUMode(UModeHideIdle) || u.User.isOperator() || u.User.UID == targetUser.UID) {
		idleSeconds := int(time.Now().Sub(targetUser.LocalUser.LastMessageTime).Seconds())
		u.messageFromServer("317", []string{
			targetUser.DisplayNick,
			fmt.Sprintf("%d", idleSeconds),
			"seconds idle",
		})
	}

	// 318 RPL_ENDOFWHOIS
	u.messageFromServer("318", []string{
		targetUser.DisplayNick,
		"End of WHOIS list",
	})

	// Spy notice: let the target know someone WHOISed them.
	if targetUser.LocalUser != nil && targetUser.hasUMode(UModeSpy) && targetUser.UID != u.User.UID {
		targetUser.LocalUser.messageFromServer("NOTICE", []string{
			fmt.Sprintf("*** Notice -- %s (%s@%s) is doing a /whois on you",
				u.User.DisplayNick, u.User.Username, u.User.Hostname),
		})
	}
}

func (u *LocalUser) operCommand(m irc.Message) {
	// Parameters: <name> <password>
	if len(m.Params) < 2 {
		// 461 ERR_NEEDMOREPARAMS
		u.messageFromServer("461", []string{"OPER", "Not enough parameters"})
		return
	}

	if u.User.isOperator() {
		// 381 RPL_YOUREOPER
		u.messageFromServer("381", []string{"You are already an IRC operator"})
		return
	}

	// TODO: Host matching

	// Check if they gave acceptable permissions.
	pass, exists := u.Catbox.Config.Opers[m.Params[0]]
	if !exists || pass != m.Params[1] {
		// 464 ERR_PASSWDMISMATCH
		u.messageFromServer("464", []string{"Password incorrect"})
		return
	}

	// Give them oper status.
	u.User.Modes['o'] = struct{}{}

	u.Catbox.Opers[u.User.UID] = u.User

	// From themselves to themselves.
	u.User.messageUser(u.User, "MODE", []string{u.User.DisplayNick, "+o"})

	// 381 RPL_YOUREOPER
	u.messageFromServer("381", []string{"You are now an IRC operator"})
}

// MODE command applies either to nicknames or to channels.
func (u *LocalUser) modeCommand(m irc.Message) {
	// User mode:
	// Parameters: <nickname> *( ( "+" / "-" ) *( "i" / "w" / "o" / "O" / "r" ) )

	// Channel mode:
	// Parameters: <channel> *( ( "-" / "+" ) *<modes> *<modeparams> )

	if len(m.Params) < 1 {
		// 461 ERR_NEEDMOREPARAMS
		u.messageFromServer("461", []string{"MODE", "Not enough parameters"})
		return
	}

	target := m.Params[0]

	// We can have blank mode. This will cause server to send current settings.
	modes := ""
	if len(m.Params) > 1 {
		modes = m.Params[1]
	}

	// Is it a nickname?
	targetUID, exists := u.Catbox.Nicks[canonicalizeNick(target)]
	if exists {
		targetUser := u.Catbox.Users[targetUID]
		u.userModeCommand(targetUser, modes)
		return
	}

	// Is it a channel?
	targetChannel, exists := u.Catbox.Channels[canonicalizeChannel(target)]
	if exists {
		u.channelModeCommand(targetChannel, m.Params[1:])
		return
	}

	// Well... Not found. Send a channel not found. It seems the closest matching
	// extant error in RFC.
	// 403 ERR_NOSUCHCHANNEL
	u.messageFromServer("403", []string{target, "No such channel"})
}

func (u *LocalUser) userModeCommand(targetUser *User, modes string) {
	// They can only change their own mode.
	if targetUser.LocalUser != u {
		// 502 ERR_USERSDONTMATCH
		u.messageFromServer("502", []string{"Cannot change mode for other users"})
		return
	}

	// No modes given means we should send back their current mode.
	if len(modes) == 0 {
		modeReturn := "+"
		for k := range u.User.Modes {
			modeReturn += string(k)
		}

		// 221 RPL_UMODEIS
		u.messageFromServer("221", []string{modeReturn})
		return
	}

	action := ' '
	for _, char := range modes {
		if char == '+' || char == '-' {
			action = char
			continue
		}

		if action == ' ' {
			// Malformed. No +/-.
			// 472 ERR_UNKNOWNMODE
			u.messageFromServer("472", []string{modes, "is unknown mode to me"})
			continue
		}

		// Some modes are accepted but otherwise no-ops right now, to avoid
		// clients getting unknown mode messages.
		if char == 'i' || char == 'w' || char == 's' {
			continue
		}

		// Self-togglable WHOIS-affecting modes (spec §4.13): no operator
		// privilege required, same as RFC's 'i'/'w'.
		if char == UModeHideChans || char == UModeHideIdle ||
			char == UModeSpy || char == UModeCallerID ||
			char == UModeSoftCallerID {
			if action == '+' {
				u.User.Modes[byte(char)] = struct{}{}
			} else {
				delete(u.User.Modes, byte(char))
			}
			continue
		}

		if char != 'o' {
			// 501 ERR_UMODEUNKNOWNFLAG
			u.messageFromServer("501", []string{"Unknown MODE flag"})
			continue
		}

		// Ignore it if they try to +o (operator) themselves. RFC says to do so.
		if action == '+' {
			continue
		}

		// This is -o. They have to be operator for there to be any effect.
		if !u.User.isOperator() {
			continue
		}

		delete(u.User.Modes, 'o')
		delete(u.Catbox.Opers, u.User.UID)
		u.User.messageUser(u.User, "MODE", []string{"-o", u.User.DisplayNick})
	}
}

func (u *LocalUser) channelModeCommand(channel *Channel, params []string) {
	if !u.User.onChannel(channel) {
		// 442 ERR_NOTONCHANNEL
		u.messageFromServer("442", []string{channel.Name, "You're not on that channel"})
		return
	}

	// No modes given: send back the channel's current modes.
	if len(params) == 0 || len(params[0]) == 0 {
		// 324 RPL_CHANNELMODEIS
		u.messageFromServer("324", []string{channel.Name, channel.modeString()})
		return
	}

	// Listing bans/excepts/invex rather than setting them.
	switch params[0] {
	case "b", "+b":
		for _, ban := range channel.Bans {
			// 367 RPL_BANLIST
			u.messageFromServer("367", []string{channel.Name, ban.Mask, ban.SetBy,
				fmt.Sprintf("%d", ban.SetTS)})
		}
		// 368 RPL_ENDOFBANLIST
		u.messageFromServer("368", []string{channel.Name, "End of channel ban list"})
		return
	case "e", "+e":
		for _, except := range channel.Excepts {
			u.messageFromServer("348", []string{channel.Name, except.Mask, except.SetBy,
				fmt.Sprintf("%d", except.SetTS)})
		}
		// 349 RPL_ENDOFEXCEPTLIST
		u.messageFromServer("349", []string{channel.Name, "End of channel exception list"})
		return
	case "I", "+I":
		for _, invex := range channel.Invex {
			u.messageFromServer("346", []string{channel.Name, invex.Mask, invex.SetBy,
				fmt.Sprintf("%d", invex.SetTS)})
		}
		// 347 RPL_ENDOFINVITELIST
		u.messageFromServer("347", []string{channel.Name, "End of channel invite list"})
		return
	}

	member := channel.findMember(u.User.UID)
	if member == nil || !(member.ChanOp || u.User.isOperator()) {
		// 482 ERR_CHANOPRIVSNEEDED
		u.messageFromServer("482", []string{channel.Name, "You're not channel operator"})
		return
	}

	appliedModes, appliedArgs := applyChannelModeChange(channel, u.Catbox, u.User.DisplayNick, params)
	if len(appliedModes) == 0 {
		return
	}

	msgParams := append([]string{channel.Name, appliedModes}, appliedArgs...)

	// Tell local members of the channel.
	for _, localMember := range channel.MembersLocal {
		localMember.User.LocalUser.maybeQueueMessage(irc.Message{
			Prefix:  u.User.nickUhost(),
			Command: "MODE",
			Params:  msgParams,
		})
	}

	// Propagate to linked servers as a TS6 TMODE.
	tmodeParams := append([]string{fmt.Sprintf("%d", channel.TS)}, msgParams...)
	for _, server := range u.Catbox.LocalServers {
		server.maybeQueueMessage(irc.Message{
			Prefix:  string(u.User.UID),
			Command: "TMODE",
			Params:  tmodeParams,
		})
	}
}

func (u *LocalUser) whoCommand(m irc.Message) {
	// Contrary to RFC 2812, I support only 'WHO #channel'.
	if len(m.Params) < 1 {
		// 461 ERR_NEEDMOREPARAMS
		u.messageFromServer("461", []string{m.Command, "Not enough parameters"})
		return
	}

	channel, exists := u.Catbox.Channels[canonicalizeChannel(m.Params[0])]
	if !exists {
		// 403 ERR_NOSUCHCHANNEL. Used to indicate channel name is invalid.
		u.messageFromServer("403", []string{m.Params[0], "Invalid channel name"})
		return
	}

	// Only works if they are on the channel.
	if !u.User.onChannel(channel) {
		// 442 ERR_NOTONCHANNEL
		u.messageFromServer("442", []string{channel.Name, "You're not on that channel"})
		return
	}

	for memberUID := range channel.Members {
		member := u.Catbox.Users[memberUID]

		// 352 RPL_WHOREPLY
		// "<channel> <user> <host> <server> <nick>
		// ( "H" / "G" > ["*"] [ ( "@" / "+" ) ]
		// :<hopcount> <real name>"
		// NOTE: I'm not sure what H/G mean. I think G is away.
		// Hopcount seems unimportant also.
		mode := "H"
		if member.isOperator() {
			mode += "*"
		}
		u.messageFromServer("352", []string{
			channel.Name,
			member.Username,
			fmt.Sprintf("%s", member.Hostname),
			u.Catbox.Config.ServerName,
			member.DisplayNick,
			mode,
			"0 " + member.RealName,
		})
	}

	// 315 RPL_ENDOFWHO
	u.messageFromServer("315", []string{channel.Name, "End of WHO list"})
}

func (u *LocalUser) topicCommand(m irc.Message) {
	// Params: <channel> [ <topic> ]
	// ArgsMin=1 in the command table enforces the parameter count.

	channelName := canonicalizeChannel(m.Params[0])
	channel, exists := u.Catbox.Channels[channelName]
	if !exists {
		// 403 ERR_NOSUCHCHANNEL. Used to indicate channel name is invalid.
		u.messageFromServer("403", []string{m.Params[0], "Invalid channel name"})
		return
	}

	if !u.User.onChannel(channel) {
		// 442 ERR_NOTONCHANNEL
		u.messageFromServer("442", []string{channel.Name, "You're not on that channel"})
		return
	}

	// If there is no new topic, then just send back the current one.
	if len(m.Params) < 2 {
		if len(channel.Topic) == 0 {
			// 331 RPL_NOTOPIC
			u.messageFromServer("331", []string{channel.Name, "No topic is set"})
			return
		}

		// 332 RPL_TOPIC
		u.messageFromServer("332", []string{channel.Name, channel.Topic})
		return
	}

	// Set new topic.

	member := channel.findMember(u.User.UID)
	if channel.hasMode(ChanModeTopicLimit) && !(member != nil && member.ChanOp) {
		// 482 ERR_CHANOPRIVSNEEDED
		u.messageFromServer("482", []string{channel.Name, "You're not channel operator"})
		return
	}

	channelSetTopic(channel, m.Params[1], u.User.nickUhost(), time.Now().Unix(), true)

	// Tell all members of the channel, including the client.
	for memberUID := range channel.Members {
		otherUser := u.Catbox.Users[memberUID]
		// TOPIC from the setter to each member.
		u.User.messageUser(otherUser, "TOPIC", []string{channel.Name, channel.Topic})
	}

	// Propagate to linked servers.
	for _, server := range u.Catbox.LocalServers {
		server.maybeQueueMessage(irc.Message{
			Prefix:  string(u.User.UID),
			Command: "TOPIC",
			Params:  []string{channel.Name, channel.Topic},
		})
	}
}

// Initiate a connection to a server.
//
// I implement CONNECT differently than RFC 2812. Only a single parameter.
func (u *LocalUser) connectCommand(m irc.Message) {
	// Registered only in the command table's kindOper slot; dispatch
	// already turned away any non-operator before reaching here.
	// CONNECT <server name>
	// ArgsMin=1 in the command table enforces the parameter count.

	serverName := m.Params[0]

	// Is it a server we know about?
	linkInfo, exists := u.Catbox.Config.Servers[serverName]
	if !exists {
		// 402 ERR_NOSUCHSERVER
		u.messageFromServer("402", []string{serverName, "No such server"})
		return
	}

	// Are we already linked to it?
	linkedAlready := false
	for _, server := range u.Catbox.Servers {
		if server.Name == serverName {
			linkedAlready = true
			break
		}
	}
	if linkedAlready {
		// No great error code.
		u.notice(fmt.Sprintf("I am already linked to %s.", serverName))
		return
	}

	// We could check if we're trying to link to it. But the result should be the
	// same.

	// Initiate a connection.
	// Put it in a goroutine to avoid blocking server goroutine.
	u.Catbox.WG.Add(1)
	go func() {
		defer u.Catbox.WG.Done()

		u.notice(fmt.Sprintf("Connecting to %s...", linkInfo.Name))

		conn, err := net.DialTimeout("tcp",
			fmt.Sprintf("%s:%d", linkInfo.Hostname, linkInfo.Port),
			u.Catbox.Config.DeadTime)
		if err != nil {
			log.Printf("Unable to connect to server [%s]: %s", linkInfo.Name, err)
			return
		}

		id := u.Catbox.getClientID()

		client := NewLocalClient(u.Catbox, id, conn)

		// Make sure we send to the client's write channel before telling the server
		// about the client. It is possible otherwise that the server (if shutting
		// down) could have closed the write channel on us.
		client.sendServerIntro(linkInfo.Pass)

		client.Catbox.newEvent(Event{Type: NewClientEvent, Client: client})

		client.Catbox.WG.Add(1)
		go client.readLoop()
		client.Catbox.WG.Add(1)
		go client.writeLoop()
	}()
}

func (u *LocalUser) linksCommand(m irc.Message) {
	// Difference from RFC: No parameters respected.

	for _, s := range u.Catbox.Servers {
		// 364 RPL_LINKS
		// <mask> <server> :<hopcount> <server info>
		u.messageFromServer("364", []string{
			s.Name,
			s.Name,
			fmt.Sprintf("%d %s", s.HopCount, s.Description),
		})
	}

	// 365 RPL_ENDOFLINKS
	// <mask> :End of LINKS list
	u.messageFromServer("365", []string{"*", "End of LINKS list"})
}
