package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Channel mode bits. Kept as a bitset rather than one bool field per mode,
// matching how umodes are done on User.
const (
	ChanModeSecret = 1 << iota
	ChanModePrivate
	ChanModeModerated
	ChanModeInviteOnly
	ChanModeNoExternalMsgs
	ChanModeTopicLimit
	ChanModeNoCTCP
	ChanModeNoNotice
	ChanModeModReg
	ChanModeRegOnly
	ChanModeOperOnly
	ChanModeSecureOnly
	ChanModeNoCtrl
)

// chanModeLetters maps a mode letter to its bit.
var chanModeLetters = map[byte]int{
	's': ChanModeSecret,
	'p': ChanModePrivate,
	'm': ChanModeModerated,
	'i': ChanModeInviteOnly,
	'n': ChanModeNoExternalMsgs,
	't': ChanModeTopicLimit,
	'C': ChanModeNoCTCP,
	'N': ChanModeNoNotice,
	'M': ChanModeModReg,
	'R': ChanModeRegOnly,
	'O': ChanModeOperOnly,
	'S': ChanModeSecureOnly,
	'c': ChanModeNoCtrl,
}

var chanModeBitToLetter = func() map[int]byte {
	m := make(map[int]byte, len(chanModeLetters))
	for letter, bit := range chanModeLetters {
		m[bit] = letter
	}
	return m
}()

// ChannelMember links one User to one Channel.
type ChannelMember struct {
	Channel *Channel
	User    *User

	ChanOp bool
	HalfOp bool
	Voice  bool

	// BanChecked/BanSilenced memoize the result of a ban lookup. Any
	// mutation of the channel's ban or exception list invalidates
	// BanChecked across every member (see invalidateBanCache).
	BanChecked  bool
	BanSilenced bool
}

func (m *ChannelMember) prefix() string {
	if m.ChanOp {
		return "@"
	}
	if m.HalfOp {
		return "%"
	}
	if m.Voice {
		return "+"
	}
	return ""
}

// multiPrefix renders every prefix the member holds, highest first, for
// clients that negotiated the multi-prefix capability.
func (m *ChannelMember) multiPrefix() string {
	var b strings.Builder
	if m.ChanOp {
		b.WriteByte('@')
	}
	if m.HalfOp {
		b.WriteByte('%')
	}
	if m.Voice {
		b.WriteByte('+')
	}
	return b.String()
}

// Ban is a mask entry in a channel's ban, exception, or invex list.
type Ban struct {
	Mask string

	// Parsed out of Mask for matching. Each may be "*" if unspecified.
	Nick string
	User string
	Host string

	SetBy string
	SetTS int64
}

// Channel holds everything to do with a channel.
type Channel struct {
	// Canonicalized name.
	Name string

	// Members in the channel, keyed by UID. This is the "all members" view
	// from spec §3; MembersLocal below is the dual "local only" view used by
	// sendto_channel_local.
	Members map[TS6UID]*ChannelMember

	// MembersLocal mirrors Members but only for locally-connected users.
	MembersLocal map[TS6UID]*ChannelMember

	// Current topic. May be blank.
	Topic      string
	TopicSetBy string
	TopicTS    int64

	// Channel TS. Changes on channel creation (or if another server tells us
	// a different, earlier TS during SJOIN reconciliation).
	TS int64

	Modes int

	Key   string
	Limit int

	Bans    []*Ban
	Excepts []*Ban
	Invex   []*Ban

	Invited map[TS6UID]struct{}

	// Join-flood tracking (spec §4.4/§8 scenario F).
	JoinFloodAccumulator float64
	LastJoinTime         time.Time
	JoinFloodNoticed     bool
}

// NewChannel creates an empty channel record with the given canonical name
// and creation TS.
func NewChannel(name string, ts int64) *Channel {
	return &Channel{
		Name:         name,
		Members:      make(map[TS6UID]*ChannelMember),
		MembersLocal: make(map[TS6UID]*ChannelMember),
		TS:           ts,
		Invited:      make(map[TS6UID]struct{}),
	}
}

func (ch *Channel) hasMode(bit int) bool {
	return ch.Modes&bit != 0
}

func (ch *Channel) setMode(bit int) {
	ch.Modes |= bit
}

func (ch *Channel) clearMode(bit int) {
	ch.Modes &^= bit
}

// modeString renders the channel's simple (no-parameter or already-applied)
// modes as "+xyz", in a stable letter order.
func (ch *Channel) modeString() string {
	var letters []byte
	for bit, letter := range chanModeBitToLetter {
		if ch.hasMode(bit) {
			letters = append(letters, letter)
		}
	}
	for i := 0; i < len(letters); i++ {
		for j := i + 1; j < len(letters); j++ {
			if letters[j] < letters[i] {
				letters[i], letters[j] = letters[j], letters[i]
			}
		}
	}
	return "+" + string(letters)
}

func (ch *Channel) findMember(uid TS6UID) *ChannelMember {
	return ch.Members[uid]
}

// addUserToChannel appends a ChannelMember to both the channel's and the
// user's views, and updates the join-flood accumulator. floodCtrl is false
// for merges that shouldn't count toward flood detection (e.g. members
// arriving via SJOIN burst rather than a live local JOIN).
//
// Grounded on ircd-hybrid's src/channel.c add_user_to_channel /
// check_spambot_warning join-flood formula.
func (catbox *Catbox) addUserToChannel(ch *Channel, u *User, chanOp, halfOp, voice bool, floodCtrl bool) *ChannelMember {
	member := &ChannelMember{
		Channel: ch,
		User:    u,
		ChanOp:  chanOp,
		HalfOp:  halfOp,
		Voice:   voice,
	}

	ch.Members[u.UID] = member
	if u.isLocal() {
		ch.MembersLocal[u.UID] = member
	}
	u.Channels[ch.Name] = ch

	if catbox.Config.JoinFloodTime > 0 {
		now := time.Now()
		if !ch.LastJoinTime.IsZero() {
			elapsed := now.Sub(ch.LastJoinTime).Seconds()
			decay := elapsed * (float64(catbox.Config.JoinFloodCount) / catbox.Config.JoinFloodTime.Seconds())
			ch.JoinFloodAccumulator -= decay
			if ch.JoinFloodAccumulator < 0 {
				ch.JoinFloodAccumulator = 0
			}
		}
		ch.LastJoinTime = now

		if floodCtrl {
			ch.JoinFloodAccumulator++
		}

		if ch.JoinFloodAccumulator >= float64(catbox.Config.JoinFloodCount) {
			if !ch.JoinFloodNoticed {
				catbox.noticeOpers(fmt.Sprintf(
					"Possible Join Flooder %s on %s target: %s",
					u.nickUhost(), catbox.Config.ServerName, ch.Name))
				ch.JoinFloodNoticed = true
			}
		} else {
			ch.JoinFloodNoticed = false
		}
	}

	return member
}

// removeUserFromChannel removes uid from both views of ch. It returns true
// if the channel is now empty, in which case the caller must delete it from
// Catbox.Channels (a Channel has no existence independent of its registry
// entry, per spec §3 invariant 4).
func removeUserFromChannel(ch *Channel, uid TS6UID) (empty bool) {
	delete(ch.Members, uid)
	delete(ch.MembersLocal, uid)
	return len(ch.Members) == 0
}

// invalidateBanCache clears BanChecked on every member. Called whenever
// Bans or Excepts changes (spec §4.11); Invex mutation does not invalidate.
func (ch *Channel) invalidateBanCache() {
	for _, member := range ch.Members {
		member.BanChecked = false
		member.BanSilenced = false
	}
}

// namesLineLimit bounds each NAMES/BMASK output line. The wire codec already
// accounts for the trailing CRLF in MaxLineLength; we leave headroom for the
// ":server 353 nick = #chan :" prefix added when the line is actually sent.
const namesLineLimit = 400

// channelMemberNames renders NAMES reply lines for ch as seen by requester,
// honoring multi-prefix and userhost-in-names capabilities, and framing
// output so each line stays under namesLineLimit bytes. It does not send
// anything; callers pass the returned lines to messageFromServer/numerics.
func channelMemberNames(ch *Channel, requester *User, multiPrefix, userhostInNames bool) []string {
	requesterIsMember := requester.onChannel(ch)

	var lines []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			lines = append(lines, strings.TrimRight(current.String(), " "))
			current.Reset()
		}
	}

	for _, member := range ch.Members {
		if !requesterIsMember && member.User.isInvisible() {
			continue
		}

		var name string
		if userhostInNames {
			name = member.User.nickUhost()
		} else {
			name = member.User.DisplayNick
		}

		var prefix string
		if multiPrefix {
			prefix = member.multiPrefix()
		} else {
			prefix = member.prefix()
		}

		token := prefix + name + " "

		if current.Len()+len(token) > namesLineLimit {
			flush()
		}
		current.WriteString(token)
	}
	flush()

	if len(lines) == 0 {
		lines = append(lines, "")
	}

	return lines
}

// canJoinChannel implements the join policy checks of spec §4.6, evaluated
// in the documented order (first failure wins): SECUREONLY, REGONLY,
// OPERONLY, INVITEONLY, KEY, LIMIT, BANNED, extban-join-veto. Returns the
// numeric reply and its arguments (sans nick/channel, which the caller
// prefixes) to send on rejection, or "" on success.
func canJoinChannel(ch *Channel, u *User, key string) (numeric string, args []string) {
	if ch.hasMode(ChanModeSecureOnly) && len(u.TLSFingerprint) == 0 {
		return "489", []string{ch.Name, "Cannot join channel (+S) - SSL/TLS required"}
	}

	if ch.hasMode(ChanModeRegOnly) && !u.isRegistered() {
		return "477", []string{ch.Name, "You need a registered nick to join that channel"}
	}

	if ch.hasMode(ChanModeOperOnly) && !u.isOperator() {
		return "520", []string{ch.Name, "Cannot join channel (+O) - IRC operators only"}
	}

	if ch.hasMode(ChanModeInviteOnly) {
		_, invited := ch.Invited[u.UID]
		if !invited && !onInvex(ch, u) {
			return "473", []string{ch.Name, "Cannot join channel (+i)"}
		}
	}

	if len(ch.Key) > 0 && key != ch.Key {
		return "475", []string{ch.Name, "Cannot join channel (+k)"}
	}

	if ch.Limit > 0 && len(ch.Members) >= ch.Limit {
		return "471", []string{ch.Name, "Cannot join channel (+l)"}
	}

	if isBanned(ch, u) {
		return "474", []string{ch.Name, "Cannot join channel (+b)"}
	}

	if !extbanJoinCanJoin(ch, u) {
		return "474", []string{ch.Name, "Cannot join channel (+b)"}
	}

	return "", nil
}

// canSendChannel implements the send policy of spec §4.7, evaluated in the
// documented order (first failure wins): service bypass, NOCTRL, NOCTCP,
// op/halfop/voice bypass, NOPRIVMSGS, MODERATED, MODREG, NONOTICE, ban
// cache, extban-mute consult.
func canSendChannel(ch *Channel, sender *User, notice bool, msg string) (numeric string, args []string) {
	if sender.isService() {
		return "", nil
	}

	if ch.hasMode(ChanModeNoCtrl) && messageHasControlChars(msg) {
		return "486", []string{ch.Name, "Cannot send to channel (no control codes allowed)"}
	}

	if ch.hasMode(ChanModeNoCTCP) && messageIsCTCP(msg) {
		return "492", []string{ch.Name, "Cannot send to channel (no CTCP allowed)"}
	}

	member := ch.findMember(sender.UID)
	if member != nil && (member.ChanOp || member.HalfOp || member.Voice) {
		return "", nil
	}

	if member == nil && ch.hasMode(ChanModeNoExternalMsgs) {
		return "404", []string{ch.Name, "Cannot send to channel"}
	}

	if ch.hasMode(ChanModeModerated) {
		return "404", []string{ch.Name, "Cannot send to channel"}
	}

	if ch.hasMode(ChanModeModReg) && !sender.isRegistered() {
		return "477", []string{ch.Name, "You need a registered nick to message that channel"}
	}

	if notice && ch.hasMode(ChanModeNoNotice) {
		return "404", []string{ch.Name, "Cannot send to channel"}
	}

	banned := isBanned(ch, sender)
	if member != nil {
		banned = channelBanCheck(member)
	}
	if banned {
		return "404", []string{ch.Name, "Cannot send to channel"}
	}

	if !extbanMuteCanSend(ch, sender) {
		return "404", []string{ch.Name, "Cannot send to channel"}
	}

	return "", nil
}

// messageHasControlChars reports whether msg contains a byte that NOCTRL
// rejects: anything below 0x20 other than the CTCP delimiter (\001) and an
// ISO-2022 shift sequence (ESC followed by '$' or '(').
func messageHasControlChars(msg string) bool {
	for i := 0; i < len(msg); i++ {
		b := msg[i]
		if b >= 0x20 || b == 0x01 {
			continue
		}
		if b == 0x1b && i+1 < len(msg) && (msg[i+1] == '$' || msg[i+1] == '(') {
			i++
			continue
		}
		return true
	}
	return false
}

// messageIsCTCP reports whether msg is a CTCP request, i.e. leads with
// \001 and isn't a /me ACTION (which NOCTCP always lets through).
func messageIsCTCP(msg string) bool {
	if len(msg) == 0 || msg[0] != 0x01 {
		return false
	}
	return !strings.HasPrefix(msg[1:], "ACTION ")
}

// channelSetTopic sets ch's topic, truncating per spec §4.4: local setters
// are bound by maxTopicLength, remote (server-propagated) topics are bound
// only by the wire's own size limit.
func channelSetTopic(ch *Channel, text, setter string, ts int64, isLocal bool) {
	if isLocal && len(text) > maxTopicLength {
		text = text[:maxTopicLength]
	}
	ch.Topic = text
	ch.TopicSetBy = setter
	ch.TopicTS = ts
}

// applyChannelModeChange parses and applies a channel MODE string (params[0])
// and its positional arguments (params[1:]) to ch, applying only changes
// that actually take effect. setter is used as the ban/except/invex setter
// name. Returns the effective mode string and arguments actually applied, for
// propagation to other servers and notification of local members; both are
// empty if nothing changed.
func applyChannelModeChange(ch *Channel, catbox *Catbox, setter string, params []string) (string, []string) {
	if len(params) == 0 {
		return "", nil
	}

	modeStr := params[0]
	args := params[1:]
	argIdx := 0
	nextArg := func() (string, bool) {
		if argIdx >= len(args) {
			return "", false
		}
		a := args[argIdx]
		argIdx++
		return a, true
	}

	var applied strings.Builder
	var appliedArgs []string
	action := byte('+')
	lastEmitted := byte(0)

	emit := func(a byte, c byte) {
		if lastEmitted != a {
			applied.WriteByte(a)
			lastEmitted = a
		}
		applied.WriteByte(c)
	}

	for _, r := range modeStr {
		c := byte(r)
		if c == '+' || c == '-' {
			action = c
			continue
		}

		switch c {
		case 'o', 'h', 'v':
			target, ok := nextArg()
			if !ok {
				continue
			}
			uid, exists := catbox.Nicks[canonicalizeNick(target)]
			if !exists {
				continue
			}
			member := ch.findMember(uid)
			if member == nil {
				continue
			}
			switch c {
			case 'o':
				member.ChanOp = action == '+'
			case 'h':
				member.HalfOp = action == '+'
			case 'v':
				member.Voice = action == '+'
			}
			emit(action, c)
			appliedArgs = append(appliedArgs, member.User.DisplayNick)

		case 'b', 'e', 'I':
			mask, ok := nextArg()
			if !ok {
				continue
			}
			var list *[]*Ban
			switch c {
			case 'b':
				list = &ch.Bans
			case 'e':
				list = &ch.Excepts
			default:
				list = &ch.Invex
			}
			var changed bool
			if action == '+' {
				changed = addBan(ch, list, mask, setter, time.Now().Unix(), c != 'I')
			} else {
				changed = removeBan(ch, list, mask, c != 'I')
			}
			if changed {
				emit(action, c)
				appliedArgs = append(appliedArgs, mask)
			}

		case 'k':
			if action == '+' {
				key, ok := nextArg()
				if !ok || len(ch.Key) > 0 {
					continue
				}
				ch.Key = key
				emit(action, c)
				appliedArgs = append(appliedArgs, key)
			} else {
				_, _ = nextArg()
				if len(ch.Key) == 0 {
					continue
				}
				ch.Key = ""
				emit(action, c)
				appliedArgs = append(appliedArgs, "*")
			}

		case 'l':
			if action == '+' {
				limitStr, ok := nextArg()
				if !ok {
					continue
				}
				limit, err := strconv.Atoi(limitStr)
				if err != nil {
					continue
				}
				ch.Limit = limit
				emit(action, c)
				appliedArgs = append(appliedArgs, limitStr)
			} else {
				if ch.Limit == 0 {
					continue
				}
				ch.Limit = 0
				emit(action, c)
			}

		default:
			bit, known := chanModeLetters[c]
			if !known {
				continue
			}
			has := ch.hasMode(bit)
			if action == '+' && !has {
				ch.setMode(bit)
				emit(action, c)
			} else if action == '-' && has {
				ch.clearMode(bit)
				emit(action, c)
			}
		}
	}

	return applied.String(), appliedArgs
}
