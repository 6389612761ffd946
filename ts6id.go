package main

import (
	"fmt"
	"regexp"
)

// TS6SID is a server ID: 1 digit followed by 2 alphanumerics.
type TS6SID string

// TS6UID is a user ID: an SID followed by a 6-character TS6ID.
type TS6UID string

// TS6ID is the local portion of a UID: 6 base-36 characters, uppercase,
// where the first character is restricted to A-Z (never a digit) to match
// ircd-ratbox's ID generation.
type TS6ID string

var sidRegexp = regexp.MustCompile(`^[0-9][0-9A-Z]{2}$`)
var uidRegexp = regexp.MustCompile(`^[0-9][0-9A-Z]{2}[A-Z][A-Z0-9]{5}$`)

// isValidSID checks a server ID is in the correct format.
func isValidSID(s string) bool {
	return sidRegexp.MatchString(s)
}

// isValidUID checks a user ID is in the correct format: SID + TS6ID.
func isValidUID(u string) bool {
	return uidRegexp.MatchString(u)
}

// ts6idAlphabet is the 36-character alphabet TS6 IDs are drawn from, in
// ascending order. Digits first matches the base-36 encode below; the first
// character of an ID is always forced into the letters-only range (see
// makeTS6ID) so IDs never start with a digit.
const ts6idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// maxTS6ID is the largest id makeTS6ID will accept. The first of the 6
// characters may only be one of the 26 letters (never a digit), and the
// remaining 5 may be any of the 36 alphanumerics: 26 * 36^5 = 1,572,120,576.
const maxTS6ID = 26 * 36 * 36 * 36 * 36 * 36

// makeTS6ID encodes id as a 6-character TS6 local ID. The encoding is
// base-36 over ts6idAlphabet, most significant digit first, except the most significant
// (first) character is restricted to A-Z, which bounds the number of
// representable connections to maxTS6ID.
func makeTS6ID(id uint64) (TS6ID, error) {
	if id >= maxTS6ID {
		return TS6ID(""), fmt.Errorf(
			"id %d exceeds the maximum representable TS6 ID (%d)", id, maxTS6ID)
	}

	buf := make([]byte, 6)

	rest := id
	for i := 5; i >= 1; i-- {
		buf[i] = ts6idAlphabet[rest%36]
		rest /= 36
	}

	// rest is now id / 36^5, in [0, 26).
	buf[0] = ts6idAlphabet[10+rest]

	return TS6ID(buf), nil
}

// isNumericCommand reports whether command is a 3-digit numeric reply
// rather than a named command like PRIVMSG.
func isNumericCommand(command string) bool {
	if len(command) != 3 {
		return false
	}
	for _, c := range command {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
