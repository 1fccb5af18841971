package config

import (
	"fmt"
	"os"
	"strings"
)

// Default configuration values (production)
const (
	DefaultDomain   = "healthconnect.qzz.io"
	DefaultTURN     = "openrelay.metered.ca"
	DefaultTURNUser = "openrelayproject"
	DefaultTURNPass = "openrelayproject"
)

// DefaultSTUNServers are the public STUN servers used when nothing else
// is configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// Config holds application configuration
type Config struct {
	// Domain is the relay server domain
	Domain string

	// WebSocketURL is constructed from domain unless overridden
	WebSocketURL string

	// ICE servers for WebRTC
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain      string
	RelayURL    string
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	// Load domain: CLI flag > env > default
	domain := opts.Domain
	if domain == "" {
		domain = os.Getenv("HC_DOMAIN")
	}
	if domain == "" {
		domain = DefaultDomain
	}

	// Load relay URL: CLI flag > env > derived from domain
	relayURL := opts.RelayURL
	if relayURL == "" {
		relayURL = os.Getenv("HC_RELAY_URL")
	}
	if relayURL == "" {
		relayURL = fmt.Sprintf("wss://%s/ws", domain)
	}

	// Load STUN servers: CLI flag > env (comma separated) > defaults
	stunServers := opts.STUNServers
	if len(stunServers) == 0 {
		if env := os.Getenv("HC_STUN_SERVERS"); env != "" {
			for _, s := range strings.Split(env, ",") {
				if s = strings.TrimSpace(s); s != "" {
					stunServers = append(stunServers, s)
				}
			}
		}
	}
	if len(stunServers) == 0 {
		stunServers = DefaultSTUNServers
	}

	// Load TURN server: CLI flag > env > default
	turnServer := opts.TURNServer
	if turnServer == "" {
		turnServer = os.Getenv("HC_TURN_SERVER")
	}
	if turnServer == "" {
		turnServer = DefaultTURN
	}

	// Load TURN credentials: CLI flag > env > default
	turnUser := opts.TURNUser
	if turnUser == "" {
		turnUser = os.Getenv("HC_TURN_USERNAME")
	}
	if turnUser == "" {
		turnUser = DefaultTURNUser
	}

	turnPass := opts.TURNPass
	if turnPass == "" {
		turnPass = os.Getenv("HC_TURN_PASSWORD")
	}
	if turnPass == "" {
		turnPass = DefaultTURNPass
	}

	return &Config{
		Domain:       domain,
		WebSocketURL: relayURL,
		STUNServers:  stunServers,
		TURNServer:   turnServer,
		TURNUser:     turnUser,
		TURNPass:     turnPass,
	}, nil
}

// GetRoomLink returns the webapp URL for a consultation room
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("https://%s/video_call/%s", c.Domain, roomID)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return c.STUNServers
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("turn:%s:80", c.TURNServer),
		fmt.Sprintf("turn:%s:443", c.TURNServer),
		fmt.Sprintf("turn:%s:443?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
