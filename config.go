package maildrop

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/synqronlabs/maildrop/dns"
)

// ServerConfig contains configuration options for the SMTP server.
//
// For a more developer-friendly API, consider using the builder pattern:
//
//	server, err := maildrop.New("mx.example.com").
//	    Port(2525).
//	    Workers(4).
//	    Maildir("/var/spool/maildrop").
//	    Build()
type ServerConfig struct {
	// Hostname is announced in greetings and Received headers, and decides
	// which recipient domains are delivered locally. Required.
	Hostname string

	// ListenAddrs are the "ip:port" addresses to accept clients on.
	// Default: "0.0.0.0:<Port>" and "[::]:<Port>".
	ListenAddrs []string

	// Port is used to build the default ListenAddrs.
	// Default: 25
	Port int

	// Workers is the number of event loops sharing the connections.
	// Default: 1
	Workers int

	// MaildirPath is the root of the spool tree.
	// Default: "./maildir/"
	MaildirPath string

	// ---- Session limits ----

	// Timeout is how long a session may sit idle waiting for client input
	// before it is closed with a 421 reply. RFC 5321 section 4.5.3.2.7
	// suggests 5 minutes.
	Timeout time.Duration

	// MaxPollWait caps a worker's readiness wait so idle loops still
	// re-check deadlines. Default: 30s
	MaxPollWait time.Duration

	// MaxLineLength is the longest accepted line, without CRLF
	// (0 = unlimited). Default: 1000 (RFC 5321 section 4.5.3.1.6)
	MaxLineLength int

	// MaxRecipients is the number of RCPT TO accepted per transaction.
	// Default: 1
	MaxRecipients int

	// ---- Spool ----

	// RandomFilenames selects maildir-style unique names. When false,
	// names are "<delivery>.mail", for reproducible test runs.
	RandomFilenames bool

	// ReceivedHeader prepends a Received trace field to every message.
	ReceivedHeader bool

	// WriteEnvelope stores a MessagePack envelope in <root>/env/.
	WriteEnvelope bool

	// AnnounceRelay answers RCPT TO for non-local recipients with 251
	// instead of 250.
	AnnounceRelay bool

	// ---- Sender verification ----

	// VerifyHelo rejects clients whose HELO/EHLO domain does not list
	// their address among its mail exchangers.
	VerifyHelo bool

	// DNSServer is the nameserver used for verification. Empty means the
	// system resolver.
	DNSServer string

	// VerifyTimeout bounds one verification. Default: 10s
	VerifyTimeout time.Duration

	// Resolver overrides DNSServer, mainly for tests.
	Resolver dns.Resolver

	// ---- Observability ----

	// MetricsAddr serves /metrics and /healthz when set.
	MetricsAddr string

	Logger *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            25,
		Workers:         1,
		MaildirPath:     "./maildir/",
		Timeout:         5 * time.Minute,
		MaxPollWait:     30 * time.Second,
		MaxLineLength:   1000,
		MaxRecipients:   1,
		RandomFilenames: true,
		ReceivedHeader:  true,
		VerifyTimeout:   10 * time.Second,
		Logger:          slog.Default(),
	}
}

// applyDefaults fills the zero values a caller left unset.
func (c *ServerConfig) applyDefaults() {
	def := DefaultServerConfig()
	if c.Port == 0 {
		c.Port = def.Port
	}
	if len(c.ListenAddrs) == 0 {
		port := strconv.Itoa(c.Port)
		c.ListenAddrs = []string{
			net.JoinHostPort("0.0.0.0", port),
			net.JoinHostPort("::", port),
		}
	}
	if c.MaildirPath == "" {
		c.MaildirPath = def.MaildirPath
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxPollWait == 0 {
		c.MaxPollWait = def.MaxPollWait
	}
	if c.MaxRecipients == 0 {
		c.MaxRecipients = def.MaxRecipients
	}
	if c.VerifyTimeout == 0 {
		c.VerifyTimeout = def.VerifyTimeout
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
}

func (c *ServerConfig) validate() error {
	if c.Hostname == "" {
		return ErrHostnameRequired
	}
	if c.Workers < 1 {
		return ErrNoWorkers
	}
	if len(c.ListenAddrs) == 0 {
		return ErrNoListeners
	}
	if c.MaxLineLength < 0 {
		return fmt.Errorf("smtp: invalid max line length %d", c.MaxLineLength)
	}
	if c.MaxRecipients < 0 {
		return fmt.Errorf("smtp: invalid max recipients %d", c.MaxRecipients)
	}
	if c.Timeout < 0 || c.MaxPollWait < 0 {
		return fmt.Errorf("smtp: timeouts must not be negative")
	}
	return nil
}

// fileConfig mirrors ServerConfig in the TOML file. Durations are strings
// accepted by time.ParseDuration.
type fileConfig struct {
	Hostname        string   `toml:"hostname"`
	ListenAddrs     []string `toml:"listen_addrs"`
	Port            int      `toml:"port"`
	Workers         int      `toml:"workers"`
	MaildirPath     string   `toml:"maildir"`
	Timeout         string   `toml:"timeout"`
	MaxPollWait     string   `toml:"max_poll_wait"`
	MaxLineLength   int      `toml:"max_line_length"`
	MaxRecipients   int      `toml:"max_recipients"`
	RandomFilenames bool     `toml:"random_filenames"`
	ReceivedHeader  bool     `toml:"received_header"`
	WriteEnvelope   bool     `toml:"write_envelope"`
	AnnounceRelay   bool     `toml:"announce_relay"`
	VerifyHelo      bool     `toml:"verify_helo"`
	DNSServer       string   `toml:"dns_server"`
	VerifyTimeout   string   `toml:"verify_timeout"`
	MetricsAddr     string   `toml:"metrics_addr"`
}

// LoadConfigFile overlays the keys present in the TOML file at path onto
// cfg. Keys missing from the file keep their current value; unknown keys
// are logged and ignored.
func LoadConfigFile(path string, cfg *ServerConfig) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var fc fileConfig
	md, err := toml.Decode(string(content), &fc)
	if err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, key := range md.Undecoded() {
		logger.Warn("unknown configuration key ignored",
			slog.String("file", path),
			slog.String("key", key.String()),
		)
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"timeout", fc.Timeout, &cfg.Timeout},
		{"max_poll_wait", fc.MaxPollWait, &cfg.MaxPollWait},
		{"verify_timeout", fc.VerifyTimeout, &cfg.VerifyTimeout},
	}
	for _, d := range durations {
		if !md.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("config: %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if md.IsDefined("hostname") {
		cfg.Hostname = fc.Hostname
	}
	if md.IsDefined("listen_addrs") {
		cfg.ListenAddrs = fc.ListenAddrs
	}
	if md.IsDefined("port") {
		cfg.Port = fc.Port
	}
	if md.IsDefined("workers") {
		cfg.Workers = fc.Workers
	}
	if md.IsDefined("maildir") {
		cfg.MaildirPath = fc.MaildirPath
	}
	if md.IsDefined("max_line_length") {
		cfg.MaxLineLength = fc.MaxLineLength
	}
	if md.IsDefined("max_recipients") {
		cfg.MaxRecipients = fc.MaxRecipients
	}
	if md.IsDefined("random_filenames") {
		cfg.RandomFilenames = fc.RandomFilenames
	}
	if md.IsDefined("received_header") {
		cfg.ReceivedHeader = fc.ReceivedHeader
	}
	if md.IsDefined("write_envelope") {
		cfg.WriteEnvelope = fc.WriteEnvelope
	}
	if md.IsDefined("announce_relay") {
		cfg.AnnounceRelay = fc.AnnounceRelay
	}
	if md.IsDefined("verify_helo") {
		cfg.VerifyHelo = fc.VerifyHelo
	}
	if md.IsDefined("dns_server") {
		cfg.DNSServer = fc.DNSServer
	}
	if md.IsDefined("metrics_addr") {
		cfg.MetricsAddr = fc.MetricsAddr
	}
	return nil
}
