package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/horgh/irc"
	"github.com/pkg/errors"
)

// KLine is a host/user mask ban applied at connection registration time and
// checked again on WEBIRC rewrite (spec §4.1).
type KLine struct {
	UserMask string
	HostMask string
	Reason   string
}

// EventType identifies what kind of Event the main loop received.
type EventType int

// Event types the single event loop dispatches on (spec §5).
const (
	// NewClientEvent means a connection (local or remote-initiated) completed
	// its TCP handshake and is ready to be tracked.
	NewClientEvent EventType = iota

	// MessageFromClientEvent carries one parsed protocol line from a
	// LocalClient/LocalUser/LocalServer.
	MessageFromClientEvent

	// DeadClientEvent means a client's read or write goroutine hit an error
	// and the connection must be torn down.
	DeadClientEvent

	// WakeupEvent is the periodic alarm tick used to ping idle clients and
	// run housekeeping that doesn't wait on any particular client.
	WakeupEvent
)

// Event is what flows through Catbox's single event channel. Only the
// fields relevant to Type are populated.
type Event struct {
	Type    EventType
	Client  *LocalClient
	Message irc.Message
}

// Catbox holds the entire state of one server process. Everything global to
// the server lives here rather than in package-level variables, so the
// single event loop goroutine is the only thing that mutates it (aside from
// the few fields explicitly documented as cross-goroutine, like
// ShutdownChan and the atomic shuttingDown flag).
type Catbox struct {
	Config *Config

	// LocalClients are connections still in registration (pre NICK+USER or
	// pre PASS/CAPAB/SERVER/SVINFO), keyed by locally unique connection id.
	LocalClients map[uint64]*LocalClient

	// LocalUsers are locally-connected, registered user clients.
	LocalUsers map[uint64]*LocalUser

	// LocalServers are locally-linked TS6 servers.
	LocalServers map[uint64]*LocalServer

	// Users holds every user known to this server, local or remote, keyed by
	// TS6 UID.
	Users map[TS6UID]*User

	// Nicks maps a canonicalized nickname to the UID currently holding it.
	Nicks map[string]TS6UID

	// Channels holds every channel with at least one member, keyed by
	// canonicalized name.
	Channels map[string]*Channel

	// Servers holds every server known to the network (local and remote),
	// keyed by TS6 SID.
	Servers map[TS6SID]*Server

	// Opers indexes currently-opered users (local or remote) by UID.
	Opers map[TS6UID]*User

	KLines []KLine

	Watch *WatchTable

	// WG tracks the reader/writer/connector goroutines so shutdown can wait
	// for them to finish before the process exits.
	WG sync.WaitGroup

	// ShutdownChan is closed exactly once, telling every writeLoop to stop.
	ShutdownChan chan struct{}

	// EventChan is the single channel every goroutine funnels activity
	// through; only the main loop ever receives from it.
	EventChan chan Event

	shuttingDown int32

	nextClientID uint64

	// LastWhoisTime is the last time a non-operator's WHOIS of a remote
	// target was serviced, for the pace_wait_simple throttle (spec §4.13,
	// modules/m_whois.c's m_whois: a single process-wide `last_used`, not
	// a per-client one -- a non-op WHOIS flood against the whole network
	// is what the throttle guards against, not one client's repeat rate).
	LastWhoisTime time.Time
}

// NewCatbox allocates an empty Catbox with the given configuration.
func NewCatbox(config *Config) *Catbox {
	return &Catbox{
		Config:       config,
		LocalClients: make(map[uint64]*LocalClient),
		LocalUsers:   make(map[uint64]*LocalUser),
		LocalServers: make(map[uint64]*LocalServer),
		Users:        make(map[TS6UID]*User),
		Nicks:        make(map[string]TS6UID),
		Channels:     make(map[string]*Channel),
		Servers:      make(map[TS6SID]*Server),
		Opers:        make(map[TS6UID]*User),
		Watch:        NewWatchTable(),
		ShutdownChan: make(chan struct{}),
		EventChan:    make(chan Event, 1024),
	}
}

// getClientID returns a fresh, locally-unique connection id.
func (cb *Catbox) getClientID() uint64 {
	return atomic.AddUint64(&cb.nextClientID, 1)
}

// newEvent enqueues an event for the main loop. Safe to call from any
// goroutine.
func (cb *Catbox) newEvent(e Event) {
	cb.EventChan <- e
}

// isShuttingDown reports whether shutdown() has been called. Safe to call
// from any goroutine; this is the one piece of Catbox state read outside
// the main loop.
func (cb *Catbox) isShuttingDown() bool {
	return atomic.LoadInt32(&cb.shuttingDown) != 0
}

// shutdown tells every goroutine to stop and begins closing connections.
// Only the main loop goroutine should call this.
func (cb *Catbox) shutdown() {
	if !atomic.CompareAndSwapInt32(&cb.shuttingDown, 0, 1) {
		return
	}

	close(cb.ShutdownChan)

	for _, client := range cb.LocalClients {
		client.quit("Server shutting down")
	}
	for _, user := range cb.LocalUsers {
		user.quit("Server shutting down", true)
	}
	for _, server := range cb.LocalServers {
		server.quit("Server shutting down")
	}
}

// errorToQuitMessage turns a read/write error (or the absence of one) into
// a client-facing quit reason, grounded on net.Conn's typical timeout and
// reset error text.
func (cb *Catbox) errorToQuitMessage(err error) string {
	if err == nil {
		return "I/O error"
	}

	msg := err.Error()
	if len(msg) == 0 {
		return "I/O error"
	}

	if strings.Contains(msg, "i/o timeout") {
		return fmt.Sprintf("Ping timeout: %d seconds",
			int(cb.Config.DeadTime.Seconds()))
	}

	if strings.Contains(msg, "connection reset by peer") {
		return "Connection reset by peer"
	}

	return msg
}

// isLinkedToServer reports whether a server with this name is already
// linked (local or remote).
func (cb *Catbox) isLinkedToServer(name string) bool {
	for _, server := range cb.Servers {
		if server.Name == name {
			return true
		}
	}
	return false
}

// noticeLocalOpers sends a server notice to every locally-connected IRC
// operator. Compare noticeOpers, which also tells opers on other servers.
func (cb *Catbox) noticeLocalOpers(msg string) {
	for _, oper := range cb.Opers {
		if !oper.isLocal() {
			continue
		}
		oper.LocalUser.messageFromServer("NOTICE", []string{
			oper.DisplayNick, fmt.Sprintf("*** Notice -- %s", msg),
		})
	}
}

// noticeOpers is noticeLocalOpers plus propagation to every linked server
// (via ENCAP OPERNOTICE) so their local opers hear it too.
func (cb *Catbox) noticeOpers(msg string) {
	cb.noticeLocalOpers(msg)

	for _, server := range cb.LocalServers {
		server.maybeQueueMessage(irc.Message{
			Prefix:  cb.Config.TS6SID,
			Command: "ENCAP",
			Params:  []string{"*", "OPERNOTICE", msg},
		})
	}
}

// issueKill forces user off the network. user may be a full record from
// cb.Users, or a bare &User{UID: uid} stand-in for a user we're rejecting
// before we ever built a full record for it (e.g. losing a UID collision
// during burst) — in that case there's nothing local to clean up, only the
// KILL to propagate.
func (cb *Catbox) issueKill(user *User, reason string) {
	full, exists := cb.Users[user.UID]
	if exists {
		user = full
	}

	for _, server := range cb.LocalServers {
		server.maybeQueueMessage(irc.Message{
			Prefix:  cb.Config.TS6SID,
			Command: "KILL",
			Params:  []string{string(user.UID), reason},
		})
	}

	if !exists {
		return
	}

	if user.isLocal() {
		user.LocalUser.quit(fmt.Sprintf("Killed (%s)", reason), false)
		return
	}

	informedUsers := make(map[TS6UID]struct{})
	quitParams := []string{fmt.Sprintf("Killed (%s)", reason)}
	for _, channel := range user.Channels {
		for memberUID := range channel.Members {
			member := cb.Users[memberUID]
			if !member.isLocal() {
				continue
			}
			if _, told := informedUsers[member.UID]; told {
				continue
			}
			informedUsers[member.UID] = struct{}{}
			member.LocalUser.maybeQueueMessage(irc.Message{
				Prefix:  user.nickUhost(),
				Command: "QUIT",
				Params:  quitParams,
			})
		}

		if removeUserFromChannel(channel, user.UID) {
			delete(cb.Channels, channel.Name)
		}
	}

	delete(cb.Users, user.UID)
	if user.isOperator() {
		delete(cb.Opers, user.UID)
	}
	delete(cb.Nicks, canonicalizeNick(user.DisplayNick))
}

// addAndApplyKLine records kline and disconnects any currently-connected
// local user it matches.
func (cb *Catbox) addAndApplyKLine(kline KLine, source, reason string) {
	cb.KLines = append(cb.KLines, kline)

	cb.noticeOpers(fmt.Sprintf("%s added K-Line for [%s@%s] [%s]",
		source, kline.UserMask, kline.HostMask, reason))

	for _, user := range cb.LocalUsers {
		if !user.User.matchesMask(kline.UserMask, kline.HostMask) {
			continue
		}
		user.quit(fmt.Sprintf("Connection closed: %s", reason), true)
	}
}

// removeKLine removes the first K-Line matching the given masks exactly.
func (cb *Catbox) removeKLine(userMask, hostMask, source string) {
	for i, kline := range cb.KLines {
		if kline.UserMask != userMask || kline.HostMask != hostMask {
			continue
		}
		cb.KLines = append(cb.KLines[:i], cb.KLines[i+1:]...)
		cb.noticeOpers(fmt.Sprintf("%s removed K-Line for [%s@%s]",
			source, userMask, hostMask))
		return
	}
}

// createWHOISResponse builds the numeric reply sequence for a WHOIS of
// target, addressed to asker, for a server to forward back toward asker's
// closest server. A narrower sequence than LocalUser.whoisCommand's:
// 311, 312, 313 (operators only), 317 (local targets, when includeIdle)
// and 318 (spec §4.8).
func (cb *Catbox) createWHOISResponse(target, asker *User, includeIdle bool) []irc.Message {
	var msgs []irc.Message

	msgs = append(msgs, irc.Message{
		Prefix:  cb.Config.ServerName,
		Command: "311",
		Params: []string{asker.DisplayNick, target.DisplayNick, target.Username,
			target.Hostname, "*", target.RealName},
	})

	msgs = append(msgs, irc.Message{
		Prefix:  cb.Config.ServerName,
		Command: "312",
		Params: []string{asker.DisplayNick, target.DisplayNick,
			cb.Config.ServerName, cb.Config.ServerInfo},
	})

	if target.isOperator() {
		msgs = append(msgs, irc.Message{
			Prefix:  cb.Config.ServerName,
			Command: "313",
			Params:  []string{asker.DisplayNick, target.DisplayNick, "is an IRC operator"},
		})
	}

	if includeIdle && target.LocalUser != nil {
		idleSeconds := int(time.Now().Sub(target.LocalUser.LastMessageTime).Seconds())
		msgs = append(msgs, irc.Message{
			Prefix:  cb.Config.ServerName,
			Command: "317",
			Params: []string{asker.DisplayNick, target.DisplayNick,
				fmt.Sprintf("%d", idleSeconds), "seconds idle"},
		})
	}

	msgs = append(msgs, irc.Message{
		Prefix:  cb.Config.ServerName,
		Command: "318",
		Params:  []string{asker.DisplayNick, target.DisplayNick, "End of WHOIS list"},
	})

	return msgs
}

// acceptConnections accepts TCP connections and hands each one to the main
// loop via a NewClientEvent, with its own reader/writer goroutines already
// running.
func (cb *Catbox) acceptConnections(ln net.Listener) {
	defer cb.WG.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if cb.isShuttingDown() {
				return
			}
			log.Printf("Failed to accept connection: %s", err)
			continue
		}

		id := cb.getClientID()
		client := NewLocalClient(cb, id, conn)

		cb.WG.Add(1)
		go client.readLoop()
		cb.WG.Add(1)
		go client.writeLoop()

		cb.newEvent(Event{Type: NewClientEvent, Client: client})
	}
}

// alarm wakes the main loop on a steady interval so it can ping idle
// clients even with no other activity.
func (cb *Catbox) alarm() {
	defer cb.WG.Done()

	interval := cb.Config.WakeupTime
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cb.newEvent(Event{Type: WakeupEvent})
		case <-cb.ShutdownChan:
			return
		}
	}
}

// checkAndPingClients looks at each connected local client. Idle
// registered clients get a PING; clients idle past DeadTime are
// disconnected. Unregistered connections are held to the same DeadTime but
// never pinged.
func (cb *Catbox) checkAndPingClients() {
	now := time.Now()

	for _, client := range cb.LocalClients {
		idle := now.Sub(client.ConnectionStartTime)
		if idle > cb.Config.DeadTime {
			client.quit("Registration timeout")
		}
	}

	for _, user := range cb.LocalUsers {
		idle := now.Sub(user.LastActivityTime)

		if idle > cb.Config.DeadTime {
			user.quit(fmt.Sprintf("Ping timeout: %d seconds", int(idle.Seconds())), true)
			continue
		}

		if idle > cb.Config.PingTime && now.Sub(user.LastPingTime) > cb.Config.PingTime {
			user.LastPingTime = now
			user.maybeQueueMessage(irc.Message{
				Prefix:  cb.Config.ServerName,
				Command: "PING",
				Params:  []string{cb.Config.ServerName},
			})
		}
	}

	for _, server := range cb.LocalServers {
		idle := now.Sub(server.LastActivityTime)

		if idle > cb.Config.DeadTime {
			server.quit(fmt.Sprintf("Ping timeout: %d seconds", int(idle.Seconds())))
			continue
		}

		if idle > cb.Config.PingTime && !server.GotPING {
			server.GotPING = true
			server.maybeQueueMessage(irc.Message{
				Command: "PING",
				Params:  []string{string(cb.Config.TS6SID)},
			})
		}
	}
}

// dispatchMessage routes one parsed protocol line to whichever handler set
// owns client.ID right now: still-registering, a registered user, or a
// linked server. A client that disappeared between send and dispatch (e.g.
// it quit on an earlier message in the same batch) is silently dropped.
func (cb *Catbox) dispatchMessage(client *LocalClient, m irc.Message) {
	if user, exists := cb.LocalUsers[client.ID]; exists {
		user.handleMessage(m)
		return
	}
	if server, exists := cb.LocalServers[client.ID]; exists {
		server.handleMessage(m)
		return
	}
	if _, exists := cb.LocalClients[client.ID]; exists {
		client.handleMessage(m)
		return
	}
}

// run is the single event loop: it is the only goroutine that touches
// Catbox's maps (besides the documented exceptions), so nothing here needs
// locking.
func (cb *Catbox) run() {
	for event := range cb.EventChan {
		switch event.Type {
		case NewClientEvent:
			cb.LocalClients[event.Client.ID] = event.Client

		case DeadClientEvent:
			if _, exists := cb.LocalClients[event.Client.ID]; exists {
				event.Client.quit("I/O error")
				continue
			}
			if user, exists := cb.LocalUsers[event.Client.ID]; exists {
				user.quit("I/O error", true)
				continue
			}
			if server, exists := cb.LocalServers[event.Client.ID]; exists {
				server.quit("I/O error")
			}

		case MessageFromClientEvent:
			cb.dispatchMessage(event.Client, event.Message)

		case WakeupEvent:
			cb.checkAndPingClients()
		}

		if cb.isShuttingDown() && len(cb.LocalClients) == 0 &&
			len(cb.LocalUsers) == 0 && len(cb.LocalServers) == 0 {
			return
		}
	}
}

// start opens the listening socket (or adopts an inherited one) and runs
// the server until shutdown.
func (cb *Catbox) start(listenFD int) error {
	var ln net.Listener
	var err error

	if listenFD >= 0 {
		file := os.NewFile(uintptr(listenFD), "listener")
		ln, err = net.FileListener(file)
		if err != nil {
			return errors.Wrap(err, "unable to listen on inherited fd")
		}
	} else {
		ln, err = net.Listen("tcp", fmt.Sprintf("%s:%s", cb.Config.ListenHost,
			cb.Config.ListenPort))
		if err != nil {
			return errors.Wrap(err, "unable to listen")
		}
	}

	cb.WG.Add(1)
	go cb.acceptConnections(ln)

	cb.WG.Add(1)
	go cb.alarm()

	cb.run()

	_ = ln.Close()
	cb.WG.Wait()

	return nil
}

func main() {
	log.SetFlags(0)

	args := getArgs()
	if args == nil {
		return
	}

	if args.Version {
		fmt.Println(ServerVersion)
		return
	}

	cb := NewCatbox(&Config{})

	if err := cb.checkAndParseConfig(args.ConfigFile); err != nil {
		log.Fatalf("Configuration problem: %s", err)
	}

	if len(args.ServerName) > 0 {
		cb.Config.ServerName = args.ServerName
	}
	if len(args.SID) > 0 {
		cb.Config.TS6SID = args.SID
	}

	if err := cb.start(args.ListenFD); err != nil {
		log.Fatal(err)
	}

	log.Printf("Server shutdown cleanly.")
}
