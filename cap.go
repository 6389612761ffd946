package main

import (
	"strings"

	"github.com/horgh/irc"
)

// capLSReply is what we advertise in response to CAP LS: every client
// capability the core recognizes (spec §6).
const capLSReply = "multi-prefix userhost-in-names away-notify extended-join account-notify server-time"

// capCommand implements the client-facing IRCv3 CAP negotiation
// (CAP LS / REQ / END / LIST), distinct from the server-to-server CAPAB
// handshake local_client.go already implements. See SPEC_FULL.md's CLIENT
// CAPABILITY NEGOTIATION section.
func (c *LocalClient) capCommand(m irc.Message) {
	if len(m.Params) == 0 {
		c.messageFromServer("461", []string{"CAP", "Not enough parameters"})
		return
	}

	sub := strings.ToUpper(m.Params[0])

	switch sub {
	case "LS":
		c.CapNegotiating = true
		c.sendCapReply("LS", capLSReply)

	case "LIST":
		c.sendCapReply("LIST", c.enabledCapNames())

	case "REQ":
		c.CapNegotiating = true
		if len(m.Params) < 2 {
			c.sendCapReply("NAK", "")
			return
		}

		requested := strings.Fields(m.Params[1])
		accepted := make([]string, 0, len(requested))
		ok := true
		for _, name := range requested {
			name = strings.TrimPrefix(name, "-")
			if _, known := capNames[name]; !known {
				ok = false
				break
			}
			accepted = append(accepted, name)
		}

		if !ok {
			c.sendCapReply("NAK", m.Params[1])
			return
		}

		for _, name := range requested {
			remove := strings.HasPrefix(name, "-")
			bareName := strings.TrimPrefix(name, "-")
			bit := capNames[bareName]
			if remove {
				c.Caps &^= bit
			} else {
				c.Caps |= bit
			}
		}

		c.sendCapReply("ACK", m.Params[1])

	case "END":
		c.CapNegotiating = false
		// If registration is otherwise complete, finish it now.
		if len(c.PreRegDisplayNick) > 0 && len(c.PreRegUser) > 0 {
			c.registerUser()
		}

	default:
		c.messageFromServer("410", []string{m.Params[0], "Invalid CAP subcommand"})
	}
}

func (c *LocalClient) enabledCapNames() string {
	var names []string
	for name, bit := range capNames {
		if c.Caps&bit != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, " ")
}

func (c *LocalClient) sendCapReply(sub, list string) {
	nick := c.PreRegDisplayNick
	if len(nick) == 0 {
		nick = "*"
	}

	params := []string{nick, sub}
	if len(list) > 0 || sub == "LS" || sub == "LIST" {
		params = append(params, list)
	}

	c.maybeQueueMessage(irc.Message{
		Prefix:  c.Catbox.Config.ServerName,
		Command: "CAP",
		Params:  params,
	})
}
