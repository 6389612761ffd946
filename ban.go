package main

import "strings"

// wildcardMatch compares s against pattern using IRC-style '*'/'?'
// wildcards under RFC 1459 case folding, per spec §4.5.2.
func wildcardMatch(pattern, s string) bool {
	return wildcardMatchFold(rfc1459Fold(pattern), rfc1459Fold(s))
}

// wildcardMatchFold is the classic O(n*m) glob matcher: '*' matches any run
// (including empty), '?' matches exactly one character.
func wildcardMatchFold(pattern, s string) bool {
	var backtrackPattern, backtrackString int
	pi, si := 0, 0
	havebacktrack := false

	for si < len(s) {
		if pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]) {
			pi++
			si++
			continue
		}

		if pi < len(pattern) && pattern[pi] == '*' {
			backtrackPattern = pi
			backtrackString = si
			havebacktrack = true
			pi++
			continue
		}

		if havebacktrack {
			pi = backtrackPattern + 1
			backtrackString++
			si = backtrackString
			continue
		}

		return false
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}

	return pi == len(pattern)
}

// parseBanMask splits a "nick!user@host"-shaped mask into its three parts,
// substituting "*" for any part that's missing, matching ircd-hybrid's
// split_nuh.
func parseBanMask(mask string) (nick, user, host string) {
	nick, user, host = "*", "*", "*"

	rest := mask
	if bang := strings.IndexByte(rest, '!'); bang >= 0 {
		nick = rest[:bang]
		rest = rest[bang+1:]
	} else if strings.IndexByte(rest, '@') < 0 {
		// A bare string with neither '!' nor '@' is treated as a nick mask.
		nick = rest
		rest = ""
	}

	if at := strings.IndexByte(rest, '@'); at >= 0 {
		if rest[:at] != "" {
			user = rest[:at]
		}
		host = rest[at+1:]
	} else if rest != "" {
		host = rest
	}

	if nick == "" {
		nick = "*"
	}
	if host == "" {
		host = "*"
	}

	return nick, user, host
}

// NewBan builds a Ban from a raw mask string.
func NewBan(mask, setBy string, setTS int64) *Ban {
	nick, user, host := parseBanMask(mask)
	return &Ban{
		Mask:  mask,
		Nick:  nick,
		User:  user,
		Host:  host,
		SetBy: setBy,
		SetTS: setTS,
	}
}

// banMatches reports whether ban matches u. Step 1 (spec §4.5): an
// extban-syntax mask dispatches to the registered extban handler instead
// of the plain n!u@h matcher. Step 2: nick and user must both match, then
// host is checked against Hostname, Sockhost, or IP (any hit counts).
func banMatches(ban *Ban, u *User) bool {
	if isExtbanMask(ban.Mask) {
		matched, found := extbanMatches(ban.Mask, u)
		return found && matched
	}

	if !wildcardMatch(ban.Nick, u.DisplayNick) {
		return false
	}
	if !wildcardMatch(ban.User, u.Username) {
		return false
	}

	return wildcardMatch(ban.Host, u.Hostname) ||
		wildcardMatch(ban.Host, u.Sockhost) ||
		wildcardMatch(ban.Host, u.IP)
}

// findBan returns the first ban in list matching u, or nil.
func findBan(list []*Ban, u *User) *Ban {
	for _, ban := range list {
		if banMatches(ban, u) {
			return ban
		}
	}
	return nil
}

// isBanned implements spec §4.5 step 3: banned and not excepted.
func isBanned(ch *Channel, u *User) bool {
	if findBan(ch.Bans, u) == nil {
		return false
	}
	return findBan(ch.Excepts, u) == nil
}

// onInvex reports whether u matches an entry in the channel's invite
// exception list, bypassing ERR_INVITEONLYCHAN.
func onInvex(ch *Channel, u *User) bool {
	return findBan(ch.Invex, u) != nil
}

// channelBanCheck memoizes isBanned on the member's BanChecked/BanSilenced
// fields per spec §4.5 step 4. Only meaningful for local members; the cache
// is invalidated wholesale by Channel.invalidateBanCache on ban/except
// mutation.
func channelBanCheck(member *ChannelMember) bool {
	if !member.BanChecked {
		member.BanSilenced = isBanned(member.Channel, member.User)
		member.BanChecked = true
	}
	return member.BanSilenced
}

// addBan appends mask to the given list (by pointer so callers can pass
// &ch.Bans / &ch.Excepts / &ch.Invex) if not already present, and
// invalidates the ban cache for Bans/Excepts mutations.
func addBan(ch *Channel, list *[]*Ban, mask, setBy string, setTS int64, invalidates bool) bool {
	for _, existing := range *list {
		if existing.Mask == mask {
			return false
		}
	}
	*list = append(*list, NewBan(mask, setBy, setTS))
	if invalidates {
		ch.invalidateBanCache()
	}
	return true
}

// removeBan removes the entry matching mask exactly, returning true if one
// was removed.
func removeBan(ch *Channel, list *[]*Ban, mask string, invalidates bool) bool {
	for i, existing := range *list {
		if existing.Mask == mask {
			*list = append((*list)[:i], (*list)[i+1:]...)
			if invalidates {
				ch.invalidateBanCache()
			}
			return true
		}
	}
	return false
}
