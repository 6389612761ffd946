package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/horgh/config"
)

// ConfigServer is one entry in the TS6 server-link table (spec §4.1).
type ConfigServer struct {
	Name     string
	Hostname string
	Port     int
	Pass     string
}

// Config holds a server's configuration.
type Config struct {
	ListenHost  string
	ListenPort  string
	ServerName  string
	ServerInfo  string
	Version     string
	CreatedDate string
	MOTD        string
	Admins      []string

	MaxNickLength int

	// Period of time to wake the event loop up (maximum, absent other
	// activity). alarm falls back to one second when it is not positive.
	WakeupTime time.Duration

	// Period of time a client can be idle before we send it a PING.
	PingTime time.Duration

	// Period of time a client can be idle before we consider it dead.
	DeadTime time.Duration

	// Oper name to password.
	Opers map[string]string

	// TS6 SID. Must be unique in the network. Format: [0-9][A-Z0-9]{2}
	TS6SID string

	// Linked servers we may CONNECT to or accept connections from, keyed by
	// server name.
	Servers map[string]*ConfigServer

	// WEBIRC gateway shared password. Blank disables WEBIRC (spec §4.3).
	WebIRCPassword string

	// Join-flood heuristics (spec §4.4 scenario F). JoinFloodTime of zero
	// disables the check.
	JoinFloodCount int
	JoinFloodTime  time.Duration

	// DisableFakeChannels is read from disable-fake-channels. isValidChannel
	// does not consult it: channel names are validated the same way whether
	// it is set or not.
	DisableFakeChannels bool

	// DisableRemoteCommands is read from disable-remote-commands. No command
	// handler consults it; whoisCommand ignores a target-server argument
	// whether or not it is set.
	DisableRemoteCommands bool

	// PaceWaitSimple is the minimum interval between non-operator WHOIS
	// lookups of non-local targets (whoisCommand). It is one process-wide
	// throttle (Catbox.LastWhoisTime), not a per-client one; zero disables it.
	PaceWaitSimple time.Duration

	// HideServers and HiddenServerName implement WHOIS's hidden-server
	// rewriting (spec §4.13, ircd-hybrid's serverhide::hide_servers): when
	// set, RPL_WHOISSERVER shows HiddenServerName instead of the real
	// server name/info to non-oper, non-self requesters.
	HideServers      bool
	HiddenServerName string
}

// checkAndParseConfig checks configuration keys are present and in an
// acceptable format, populating catbox.Config and catbox.Config.Opers.
func (catbox *Catbox) checkAndParseConfig(file string) error {
	configMap, err := config.ReadStringMap(file)
	if err != nil {
		return err
	}

	requiredKeys := []string{
		"listen-host",
		"listen-port",
		"server-name",
		"server-info",
		"version",
		"created-date",
		"motd",
		"max-nick-length",
		"wakeup-time",
		"ping-time",
		"dead-time",
		"opers-config",
		"ts6-sid",
	}

	for _, key := range requiredKeys {
		v, exists := configMap[key]
		if !exists {
			return fmt.Errorf("missing required key: %s", key)
		}

		if len(v) == 0 {
			return fmt.Errorf("configuration value is blank: %s", key)
		}
	}

	catbox.Config.ListenHost = configMap["listen-host"]
	catbox.Config.ListenPort = configMap["listen-port"]
	catbox.Config.ServerName = configMap["server-name"]
	catbox.Config.ServerInfo = configMap["server-info"]
	catbox.Config.Version = configMap["version"]
	catbox.Config.CreatedDate = configMap["created-date"]
	catbox.Config.MOTD = configMap["motd"]

	if admins, exists := configMap["admins"]; exists && len(admins) > 0 {
		catbox.Config.Admins = strings.Split(admins, ",")
	}

	nickLen64, err := strconv.ParseInt(configMap["max-nick-length"], 10, 8)
	if err != nil {
		return fmt.Errorf("max nick length is not valid: %s", err)
	}
	catbox.Config.MaxNickLength = int(nickLen64)

	catbox.Config.WakeupTime, err = time.ParseDuration(configMap["wakeup-time"])
	if err != nil {
		return fmt.Errorf("wakeup time is in invalid format: %s", err)
	}

	catbox.Config.PingTime, err = time.ParseDuration(configMap["ping-time"])
	if err != nil {
		return fmt.Errorf("ping time is in invalid format: %s", err)
	}

	catbox.Config.DeadTime, err = time.ParseDuration(configMap["dead-time"])
	if err != nil {
		return fmt.Errorf("dead time is in invalid format: %s", err)
	}

	opers, err := config.ReadStringMap(configMap["opers-config"])
	if err != nil {
		return fmt.Errorf("unable to load opers config: %s", err)
	}
	catbox.Config.Opers = opers

	matched, err := regexp.MatchString("^[0-9][0-9A-Z]{2}$", configMap["ts6-sid"])
	if err != nil {
		return fmt.Errorf("unable to validate ts6-sid: %s", err)
	}
	if !matched {
		return fmt.Errorf("ts6-sid is in invalid format")
	}
	catbox.Config.TS6SID = configMap["ts6-sid"]

	if serversConfig, exists := configMap["servers-config"]; exists && len(serversConfig) > 0 {
		servers, err := config.ReadStringMap(serversConfig)
		if err != nil {
			return fmt.Errorf("unable to load servers config: %s", err)
		}

		catbox.Config.Servers = map[string]*ConfigServer{}
		for name, raw := range servers {
			// host:port:pass
			parts := strings.SplitN(raw, ":", 3)
			if len(parts) != 3 {
				return fmt.Errorf("invalid server link entry for %s", name)
			}
			port, err := strconv.Atoi(parts[1])
			if err != nil {
				return fmt.Errorf("invalid port in server link entry for %s: %s", name, err)
			}
			catbox.Config.Servers[name] = &ConfigServer{
				Name:     name,
				Hostname: parts[0],
				Port:     port,
				Pass:     parts[2],
			}
		}
	}

	catbox.Config.WebIRCPassword = configMap["webirc-password"]

	if v, exists := configMap["join-flood-count"]; exists && len(v) > 0 {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid join-flood-count: %s", err)
		}
		catbox.Config.JoinFloodCount = n
	}

	if v, exists := configMap["join-flood-time"]; exists && len(v) > 0 {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid join-flood-time: %s", err)
		}
		catbox.Config.JoinFloodTime = d
	}

	catbox.Config.DisableFakeChannels = configMap["disable-fake-channels"] == "true"
	catbox.Config.DisableRemoteCommands = configMap["disable-remote-commands"] == "true"

	if v, exists := configMap["pace-wait-simple"]; exists && len(v) > 0 {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid pace-wait-simple: %s", err)
		}
		catbox.Config.PaceWaitSimple = d
	}

	catbox.Config.HideServers = configMap["hide-servers"] == "true"
	catbox.Config.HiddenServerName = configMap["hidden-server-name"]

	return nil
}
