package main

import (
	"fmt"
	"net"
	"time"
)

// fakeAddr is a net.Addr with a TCP-shaped String(), so code that expects
// to resolve a connection's RemoteAddr as a TCP address (NewConn) gets
// something parseable, unlike net.Pipe's own "pipe" address.
type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// fakeAddrConn wraps a net.Conn and overrides RemoteAddr/LocalAddr with a
// resolvable fake TCP address.
type fakeAddrConn struct {
	net.Conn
	remote fakeAddr
}

func (c fakeAddrConn) RemoteAddr() net.Addr { return c.remote }
func (c fakeAddrConn) LocalAddr() net.Addr  { return fakeAddr("127.0.0.1:0") }

var testClientSeq int

func nextFakeClientAddr() fakeAddr {
	testClientSeq++
	return fakeAddr(fmt.Sprintf("127.0.0.1:%d", 20000+testClientSeq))
}

// newTestConfig returns a Config with the fields the engine tests rely on
// set to small, deterministic values.
func newTestConfig() *Config {
	return &Config{
		ServerName:    "irc.test",
		ServerInfo:    "test server",
		TS6SID:        "1AA",
		MaxNickLength: 15,
		DeadTime:      time.Minute,
		PingTime:      time.Minute,
	}
}

// newTestCatbox returns an empty, fully initialized Catbox suitable for
// exercising engine logic without any real I/O.
func newTestCatbox() *Catbox {
	return NewCatbox(newTestConfig())
}

// newTestLocalClient builds a LocalClient backed by an in-memory net.Pipe
// connection, wrapped in fakeAddrConn so NewConn's RemoteAddr() resolution
// gets a parseable TCP address, without ever touching the network for real. The peer side is
// closed immediately; nothing in these tests drives the read/write loops.
func newTestLocalClient(cb *Catbox) *LocalClient {
	clientConn, peerConn := net.Pipe()
	_ = peerConn.Close()

	id := cb.getClientID()
	c := NewLocalClient(cb, id, fakeAddrConn{Conn: clientConn, remote: nextFakeClientAddr()})
	cb.LocalClients[id] = c
	return c
}

// newTestUser registers a locally-connected, fully registered User under
// nick, with username/hostname filled with placeholder values, and returns
// both the User and its LocalUser wrapper.
func newTestUser(cb *Catbox, nick string) (*User, *LocalUser) {
	lc := newTestLocalClient(cb)
	lu := NewLocalUser(lc)

	uid := TS6UID(cb.Config.TS6SID + string(rune('A'+len(cb.Users))) + "AAAAA")

	u := &User{
		DisplayNick: nick,
		NickTS:      time.Now().Unix(),
		Modes:       make(map[byte]struct{}),
		Username:    "user",
		Hostname:    "host.example.org",
		Sockhost:    "127.0.0.1",
		IP:          "127.0.0.1",
		UID:         uid,
		RealName:    "Test User",
		Account:     "*",
		Channels:    make(map[string]*Channel),
		LocalUser:   lu,
	}
	lu.User = u

	cb.Users[uid] = u
	cb.Nicks[canonicalizeNick(nick)] = uid
	cb.LocalUsers[lc.ID] = lu

	return u, lu
}

// newTestRemoteUser registers a remote (non-local) User under nick, heard
// about via closestServer.
func newTestRemoteUser(cb *Catbox, nick string, uid TS6UID, nickTS int64, closestServer *LocalServer) *User {
	u := &User{
		DisplayNick:   nick,
		NickTS:        nickTS,
		Modes:         make(map[byte]struct{}),
		Username:      "user",
		Hostname:      "host.example.org",
		Sockhost:      "10.0.0.1",
		IP:            "10.0.0.1",
		UID:           uid,
		RealName:      "Remote User",
		Account:       "*",
		Channels:      make(map[string]*Channel),
		ClosestServer: closestServer,
	}

	cb.Users[uid] = u
	cb.Nicks[canonicalizeNick(nick)] = uid

	return u
}

// newTestLocalServer registers a locally-linked Server/LocalServer pair
// under sid, so commands like sjoinCommand that look the source up in
// cb.Servers succeed.
func newTestLocalServer(cb *Catbox, sid TS6SID, name string) *LocalServer {
	lc := newTestLocalClient(cb)
	ls := NewLocalServer(lc)

	srv := &Server{
		SID:  sid,
		Name: name,
	}
	srv.LocalServer = ls
	srv.ClosestServer = ls
	ls.Server = srv

	cb.Servers[sid] = srv
	cb.LocalServers[lc.ID] = ls

	return ls
}

// drainWriteChan collects every message currently buffered on a LocalUser's
// WriteChan without blocking.
func drainWriteChan(lu *LocalUser) []messageSent {
	var out []messageSent
	for {
		select {
		case m := <-lu.WriteChan:
			out = append(out, messageSent{Command: m.Command, Params: m.Params, Prefix: m.Prefix})
		default:
			return out
		}
	}
}

type messageSent struct {
	Prefix  string
	Command string
	Params  []string
}
