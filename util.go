package main

import "strings"

// CHANNELLEN. 50 from RFC 2812, which ircd-hybrid and ircd-ratbox both keep.
const CHANNELLEN = 50

// maxChannelLength is an alias of CHANNELLEN; nothing in this module refers
// to it.
const maxChannelLength = CHANNELLEN

// Arbitrary. Something low enough we won't hit message limit.
const maxTopicLength = 300

// foldUpperToLower holds the RFC 1459 "Scandinavian" case fold. It extends ASCII
// case folding with {, |, }, ~ as the lowercase forms of [, \, ], ^.
var foldUpperToLower = map[rune]rune{
	'[': '{',
	'\\': '|',
	']': '}',
	'^': '~',
}

var foldLowerToUpper = map[rune]rune{
	'{': '[',
	'|': '\\',
	'}': ']',
	'~': '^',
}

// rfc1459Fold lowercases a string per RFC 1459 2.2: A-Z maps to a-z, and
// additionally [ \ ] ^ map to { | } ~. This is the fold servers and clients
// are required to use when comparing nicks and channel names.
func rfc1459Fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		if lower, ok := foldUpperToLower[r]; ok {
			b.WriteRune(lower)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// canonicalizeNick converts the given nick to its canonical representation
// (which must be unique).
//
// Note: We don't check validity or strip whitespace.
func canonicalizeNick(n string) string {
	return rfc1459Fold(n)
}

// canonicalizeChannel converts the given channel to its canonical
// representation (which must be unique).
//
// Note: We don't check validity or strip whitespace.
func canonicalizeChannel(c string) string {
	return rfc1459Fold(c)
}

// isValidNick checks if a nickname is valid.
//
// RFC 2812 2.3.1: nickname = ( letter / special ) *8( letter / digit /
// special / "-" ). We widen the digit count limit to maxLen (config
// controlled) rather than the RFC's fixed 9, matching how ircd-hybrid
// exposes NICKLEN as a build/config constant rather than a hard RFC limit.
func isValidNick(maxLen int, n string) bool {
	if len(n) == 0 || len(n) > maxLen {
		return false
	}

	for i, char := range n {
		if isNickLetter(char) || isNickSpecial(char) {
			continue
		}

		if char >= '0' && char <= '9' {
			// No digits in first position.
			if i == 0 {
				return false
			}
			continue
		}

		if char == '-' && i > 0 {
			continue
		}

		return false
	}

	return true
}

func isNickLetter(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// isNickSpecial covers RFC 2812's special characters "[" / "]" / "\" / "`" /
// "^" / "{" / "}" / "_" / "|". "-" is not included; isValidNick handles it
// separately since it's not valid in position 0.
func isNickSpecial(c rune) bool {
	switch c {
	case '[', ']', '\\', '`', '^', '{', '}', '_', '|':
		return true
	}
	return false
}

// isValidUser checks if a user (USER command) is valid.
//
// RFC 2812 doesn't define "user" precisely. We accept printable non-space,
// non-control, non-"@" characters, matching ircd-hybrid's clean_username.
func isValidUser(maxLen int, u string) bool {
	if len(u) == 0 || len(u) > maxLen {
		return false
	}

	for _, char := range u {
		if char <= ' ' || char == 0x7f || char == '@' {
			return false
		}
	}

	return true
}

// isValidRealName checks the realname (gecos) field: it must be 1 to 50
// bytes long and free of control characters; everything else, including
// spaces, is fine since it's the trailing parameter.
func isValidRealName(s string) bool {
	if len(s) == 0 || len(s) > 50 {
		return false
	}

	for _, char := range s {
		if char < ' ' || char == 0x7f {
			return false
		}
	}

	return true
}

// isValidHostname is a loose RFC 952/1123 hostname check: labels of
// letters/digits/hyphens separated by dots, not starting or ending with a
// hyphen.
func isValidHostname(h string) bool {
	if len(h) == 0 || len(h) > 63 {
		return false
	}

	labels := strings.Split(h, ".")
	for _, label := range labels {
		if len(label) == 0 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, char := range label {
			if (char >= 'a' && char <= 'z') ||
				(char >= 'A' && char <= 'Z') ||
				(char >= '0' && char <= '9') ||
				char == '-' {
				continue
			}
			return false
		}
	}

	return true
}

// isValidChannel checks a channel name for validity.
//
// You should canonicalize it before using this function.
//
// RFC 2812 1.3: channel = ( "#" / "+" / "&" ) chanstring. We support "#"
// (the common case) and "&" (local-only channels). The DisableFakeChannels
// config setting is not consulted here.
func isValidChannel(c string) bool {
	if len(c) == 0 || len(c) > CHANNELLEN {
		return false
	}

	switch c[0] {
	case '#', '&':
	default:
		return false
	}

	for i, char := range c {
		if i == 0 {
			continue
		}
		// chanstring excludes space, comma, ^G (0x07), and colon.
		if char == ' ' || char == ',' || char == 0x07 || char == ':' {
			return false
		}
		if char < ' ' {
			return false
		}
	}

	return true
}
