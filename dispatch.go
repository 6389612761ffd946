package main

import "github.com/horgh/irc"

// sessionKind identifies which of the command table's five handler slots a
// session should be dispatched through (spec §4.2/§9's static dispatch
// table). Grounded on ircd-hybrid's modules/m_whois.c's whois_msgtab, which
// carries one handler per registration state plus ENCAP; we add OPER as a
// fifth slot to express oper-gated commands (DIE, CONNECT) as a table
// property instead of an inline isOperator() check in each handler.
type sessionKind int

const (
	kindUnregistered sessionKind = iota
	kindClient
	kindServer
	kindEncap
	kindOper
)

// commandHandler is one slot's handler function. session is the concrete
// *LocalClient/*LocalUser/*LocalServer, passed through as a messager so
// dispatch itself never needs to know the concrete type; handlers type
// assert back to it.
type commandHandler func(session messager, m irc.Message)

// messager is satisfied by any session kind that can receive a numeric or
// other reply from the server, letting dispatch reply uniformly (481, 461)
// without branching on concrete type.
type messager interface {
	messageFromServer(command string, params []string)
}

// Message is one command's entry in the dispatch table: its minimum and
// maximum argument counts and its per-slot handlers. ArgsMax is recorded
// in the table only: dispatchCommand does not check it, so any upper bound
// is the handler's own. ArgsMin of 0 means the table enforces no minimum; this is the
// deliberate choice whenever the slots disagree on what "enough parameters"
// means, or whenever a violation doesn't actually produce a 461 reply (a
// quit, a silent return) — in those cases the handler keeps its own check.
type Message struct {
	Command  string
	ArgsMin  int
	ArgsMax  int
	Handlers [5]commandHandler
}

var commandTable = map[string]*Message{}

// registerCommand adds or replaces a command's table entry.
func registerCommand(cmd Message) {
	c := cmd
	commandTable[c.Command] = &c
}

// unregisterCommand removes a command from the table entirely.
func unregisterCommand(command string) {
	delete(commandTable, command)
}

// isOperSession reports whether session is a registered user client with
// operator privileges, for OPER-slot escalation.
func isOperSession(session messager) bool {
	lu, ok := session.(*LocalUser)
	return ok && lu.User.isOperator()
}

// dispatchCommand looks up m.Command in the table and, if a handler exists
// for kind, checks ArgsMin and invokes it. It returns false when the table
// has no entry, or no handler for kind (and no OPER-slot to escalate
// through), so that callers can fall back to their own kind-specific
// "unknown command" reply (451 vs 421).
//
// OPER-slot escalation (spec §9): if kind is kindClient and no kindClient
// handler is registered but a kindOper handler is, an operator session
// uses it; a non-operator session gets 481 instead of falling through to
// "unknown command".
func dispatchCommand(kind sessionKind, session messager, m irc.Message) bool {
	entry, exists := commandTable[m.Command]
	if !exists {
		return false
	}

	handler := entry.Handlers[kind]

	if handler == nil && kind == kindClient && entry.Handlers[kindOper] != nil {
		if !isOperSession(session) {
			// 481 ERR_NOPRIVILEGES
			session.messageFromServer("481",
				[]string{"Permission Denied- You're not an IRC operator"})
			return true
		}
		handler = entry.Handlers[kindOper]
	}

	if handler == nil {
		return false
	}

	if entry.ArgsMin > 0 && len(m.Params) < entry.ArgsMin {
		// 461 ERR_NEEDMOREPARAMS
		session.messageFromServer("461", []string{m.Command, "Not enough parameters"})
		return true
	}

	handler(session, m)
	return true
}

// dispatchEncap looks up subCommand (an ENCAP payload command, e.g. KLINE)
// in the same table under the kindEncap slot. Unlike dispatchCommand, an
// unregistered or unhandled subcommand is silently ignored rather than
// replied to — ENCAP's destination mask may address servers that don't
// know every subcommand in circulation, matching ircd-hybrid's handling of
// ENCAP targets that don't implement a given capability.
func dispatchEncap(session messager, subCommand string, subParams []string, prefix string) {
	entry, exists := commandTable[subCommand]
	if !exists {
		return
	}

	handler := entry.Handlers[kindEncap]
	if handler == nil {
		return
	}

	if entry.ArgsMin > 0 && len(subParams) < entry.ArgsMin {
		session.messageFromServer("461", []string{subCommand, "Not enough parameters"})
		return
	}

	handler(session, irc.Message{Prefix: prefix, Command: subCommand, Params: subParams})
}

func noopHandler(messager, irc.Message) {}

// init populates the command table. One registerCommand call per command
// name; a command usable from more than one session kind fills in more
// than one slot of the same entry.
func init() {
	// Client registration (spec §3): CAP is available both pre- and
	// post-registration; the rest are unregistered-only.
	registerCommand(Message{
		Command: "CAP",
		Handlers: [5]commandHandler{
			kindUnregistered: func(s messager, m irc.Message) { s.(*LocalClient).capCommand(m) },
			kindClient:       func(s messager, m irc.Message) { s.(*LocalUser).capCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "WEBIRC",
		ArgsMin: 4,
		Handlers: [5]commandHandler{
			kindUnregistered: func(s messager, m irc.Message) { s.(*LocalClient).webircCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "NICK",
		Handlers: [5]commandHandler{
			kindUnregistered: func(s messager, m irc.Message) { s.(*LocalClient).nickCommand(m) },
			kindClient:       func(s messager, m irc.Message) { s.(*LocalUser).nickCommand(m) },
			kindServer:       func(s messager, m irc.Message) { s.(*LocalServer).nickCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "USER",
		Handlers: [5]commandHandler{
			kindUnregistered: func(s messager, m irc.Message) { s.(*LocalClient).userCommand(m) },
			kindClient:       func(s messager, m irc.Message) { s.(*LocalUser).userCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "PASS",
		ArgsMin: 4,
		Handlers: [5]commandHandler{
			kindUnregistered: func(s messager, m irc.Message) { s.(*LocalClient).passCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "CAPAB",
		ArgsMin: 1,
		Handlers: [5]commandHandler{
			kindUnregistered: func(s messager, m irc.Message) { s.(*LocalClient).capabCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "SERVER",
		Handlers: [5]commandHandler{
			kindUnregistered: func(s messager, m irc.Message) { s.(*LocalClient).serverCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "SVINFO",
		ArgsMin: 4,
		Handlers: [5]commandHandler{
			kindUnregistered: func(s messager, m irc.Message) { s.(*LocalClient).svinfoCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "ERROR",
		Handlers: [5]commandHandler{
			kindUnregistered: func(s messager, m irc.Message) { s.(*LocalClient).errorCommand(m) },
			kindServer:       func(s messager, m irc.Message) { s.(*LocalServer).errorCommand(m) },
		},
	})

	// NOTICE is silently ignored pre-registration (may arrive while we're
	// dialing out to a server); PRIVMSG has no meaning there at all and so
	// has no kindUnregistered slot (falls through to "not registered").
	registerCommand(Message{
		Command: "NOTICE",
		Handlers: [5]commandHandler{
			kindUnregistered: noopHandler,
			kindClient:       func(s messager, m irc.Message) { s.(*LocalUser).privmsgCommand(m) },
			kindServer:       func(s messager, m irc.Message) { s.(*LocalServer).privmsgCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "PRIVMSG",
		Handlers: [5]commandHandler{
			kindClient: func(s messager, m irc.Message) { s.(*LocalUser).privmsgCommand(m) },
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).privmsgCommand(m) },
		},
	})

	// Registered-user-only commands.
	registerCommand(Message{
		Command: "WATCH",
		Handlers: [5]commandHandler{
			kindClient: func(s messager, m irc.Message) { s.(*LocalUser).watchCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "JOIN",
		Handlers: [5]commandHandler{
			kindClient: func(s messager, m irc.Message) { s.(*LocalUser).joinCommand(m) },
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).joinCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "PART",
		ArgsMin: 1,
		Handlers: [5]commandHandler{
			kindClient: func(s messager, m irc.Message) { s.(*LocalUser).partCommand(m) },
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).partCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "LUSERS",
		Handlers: [5]commandHandler{
			kindClient: func(s messager, m irc.Message) { s.(*LocalUser).lusersCommand() },
		},
	})
	registerCommand(Message{
		Command: "MOTD",
		Handlers: [5]commandHandler{
			kindClient: func(s messager, m irc.Message) { s.(*LocalUser).motdCommand() },
		},
	})
	registerCommand(Message{
		Command: "QUIT",
		Handlers: [5]commandHandler{
			kindClient: func(s messager, m irc.Message) { s.(*LocalUser).quitCommand(m) },
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).quitCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "PING",
		Handlers: [5]commandHandler{
			kindClient: func(s messager, m irc.Message) { s.(*LocalUser).pingCommand(m) },
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).pingCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "PONG",
		Handlers: [5]commandHandler{
			kindClient: noopHandler,
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).pongCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "DIE",
		Handlers: [5]commandHandler{
			kindOper: func(s messager, m irc.Message) { s.(*LocalUser).dieCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "WHOIS",
		Handlers: [5]commandHandler{
			kindClient: func(s messager, m irc.Message) { s.(*LocalUser).whoisCommand(m) },
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).whoisCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "OPER",
		Handlers: [5]commandHandler{
			kindClient: func(s messager, m irc.Message) { s.(*LocalUser).operCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "MODE",
		Handlers: [5]commandHandler{
			kindClient: func(s messager, m irc.Message) { s.(*LocalUser).modeCommand(m) },
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).modeCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "WHO",
		Handlers: [5]commandHandler{
			kindClient: func(s messager, m irc.Message) { s.(*LocalUser).whoCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "TOPIC",
		ArgsMin: 1,
		Handlers: [5]commandHandler{
			kindClient: func(s messager, m irc.Message) { s.(*LocalUser).topicCommand(m) },
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).topicCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "CONNECT",
		ArgsMin: 1,
		Handlers: [5]commandHandler{
			kindOper: func(s messager, m irc.Message) { s.(*LocalUser).connectCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "LINKS",
		Handlers: [5]commandHandler{
			kindClient: func(s messager, m irc.Message) { s.(*LocalUser).linksCommand(m) },
		},
	})

	// Server-to-server only commands.
	registerCommand(Message{
		Command: "UID",
		ArgsMin: 9,
		Handlers: [5]commandHandler{
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).uidCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "SID",
		ArgsMin: 4,
		Handlers: [5]commandHandler{
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).sidCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "SJOIN",
		ArgsMin: 4,
		Handlers: [5]commandHandler{
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).sjoinCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "WALLOPS",
		Handlers: [5]commandHandler{
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).wallopsCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "OPERWALL",
		Handlers: [5]commandHandler{
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).wallopsCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "BMASK",
		ArgsMin: 4,
		Handlers: [5]commandHandler{
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).bmaskCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "TMODE",
		ArgsMin: 3,
		Handlers: [5]commandHandler{
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).tmodeCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "SVSNICK",
		ArgsMin: 3,
		Handlers: [5]commandHandler{
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).svsnickCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "SQUIT",
		ArgsMin: 2,
		Handlers: [5]commandHandler{
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).squitCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "KILL",
		ArgsMin: 2,
		Handlers: [5]commandHandler{
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).killCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "ENCAP",
		ArgsMin: 2,
		Handlers: [5]commandHandler{
			kindServer: func(s messager, m irc.Message) { s.(*LocalServer).encapCommand(m) },
		},
	})

	// AWAY and CLICONN arrive from other ircd-ratbox-derived servers but
	// aren't otherwise implemented in server-to-server context; accept and
	// discard rather than replying "unknown command".
	registerCommand(Message{
		Command: "AWAY",
		Handlers: [5]commandHandler{
			kindServer: noopHandler,
		},
	})
	registerCommand(Message{
		Command: "CLICONN",
		Handlers: [5]commandHandler{
			kindServer: noopHandler,
		},
	})

	// ENCAP payload subcommands (spec §9's ENCAP slot). These never arrive
	// as top-level commands, only unwrapped from an ENCAP envelope, so only
	// the kindEncap slot is populated.
	registerCommand(Message{
		Command: "KLINE",
		ArgsMin: 3,
		Handlers: [5]commandHandler{
			kindEncap: func(s messager, m irc.Message) { s.(*LocalServer).klineCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "UNKLINE",
		ArgsMin: 2,
		Handlers: [5]commandHandler{
			kindEncap: func(s messager, m irc.Message) { s.(*LocalServer).unklineCommand(m) },
		},
	})
	registerCommand(Message{
		Command: "OPERNOTICE",
		Handlers: [5]commandHandler{
			kindEncap: func(s messager, m irc.Message) {
				if len(m.Params) > 0 {
					s.(*LocalServer).Catbox.noticeLocalOpers(m.Params[0])
				}
			},
		},
	})
}
