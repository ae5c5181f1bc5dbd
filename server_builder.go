package maildrop

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/synqronlabs/maildrop/dns"
)

// ServerBuilder assembles a ServerConfig fluently.
//
//	server, err := maildrop.New("mx.example.com").
//	    Addr("127.0.0.1:2525").
//	    Workers(4).
//	    Build()
type ServerBuilder struct {
	config          ServerConfig
	shutdownTimeout time.Duration
}

// New creates a new ServerBuilder with DefaultServerConfig values.
func New(hostname string) *ServerBuilder {
	config := DefaultServerConfig()
	config.Hostname = hostname
	return &ServerBuilder{config: config, shutdownTimeout: 30 * time.Second}
}

// Addr adds an "ip:port" address to listen on. Without any Addr call the
// server listens on the IPv4 and IPv6 wildcards of Port.
func (b *ServerBuilder) Addr(addr string) *ServerBuilder {
	b.config.ListenAddrs = append(b.config.ListenAddrs, addr)
	return b
}

// Port sets the port of the default wildcard addresses.
func (b *ServerBuilder) Port(port int) *ServerBuilder {
	b.config.Port = port
	return b
}

// Workers sets the number of worker event loops.
func (b *ServerBuilder) Workers(n int) *ServerBuilder {
	b.config.Workers = n
	return b
}

// Maildir sets the spool root.
func (b *ServerBuilder) Maildir(path string) *ServerBuilder {
	b.config.MaildirPath = path
	return b
}

// Logger sets the structured logger for the server.
func (b *ServerBuilder) Logger(logger *slog.Logger) *ServerBuilder {
	b.config.Logger = logger
	return b
}

// Timeout sets the idle time after which a session is closed.
func (b *ServerBuilder) Timeout(d time.Duration) *ServerBuilder {
	b.config.Timeout = d
	return b
}

// MaxPollWait caps a single readiness wait of the workers.
func (b *ServerBuilder) MaxPollWait(d time.Duration) *ServerBuilder {
	b.config.MaxPollWait = d
	return b
}

// MaxLineLength sets the maximum line length (0 = unlimited).
func (b *ServerBuilder) MaxLineLength(n int) *ServerBuilder {
	b.config.MaxLineLength = n
	return b
}

// MaxRecipients sets the maximum recipients per message.
func (b *ServerBuilder) MaxRecipients(n int) *ServerBuilder {
	b.config.MaxRecipients = n
	return b
}

// DeterministicFilenames names spool files "<n>.mail".
func (b *ServerBuilder) DeterministicFilenames() *ServerBuilder {
	b.config.RandomFilenames = false
	return b
}

// ReceivedHeader toggles the Received trace field.
func (b *ServerBuilder) ReceivedHeader(enabled bool) *ServerBuilder {
	b.config.ReceivedHeader = enabled
	return b
}

// Envelopes stores a MessagePack envelope next to every message.
func (b *ServerBuilder) Envelopes() *ServerBuilder {
	b.config.WriteEnvelope = true
	return b
}

// AnnounceRelay answers non-local recipients with 251.
func (b *ServerBuilder) AnnounceRelay() *ServerBuilder {
	b.config.AnnounceRelay = true
	return b
}

// VerifyHelo checks HELO/EHLO names against the client address using the
// given nameserver ("" for the system resolver).
func (b *ServerBuilder) VerifyHelo(dnsServer string) *ServerBuilder {
	b.config.VerifyHelo = true
	b.config.DNSServer = dnsServer
	return b
}

// Resolver sets the resolver used by VerifyHelo.
func (b *ServerBuilder) Resolver(r dns.Resolver) *ServerBuilder {
	b.config.Resolver = r
	return b
}

// ShutdownTimeout bounds the stop performed by Run on SIGINT/SIGTERM.
// Default: 30 seconds.
func (b *ServerBuilder) ShutdownTimeout(d time.Duration) *ServerBuilder {
	b.shutdownTimeout = d
	return b
}

// Config returns the configuration assembled so far.
func (b *ServerBuilder) Config() ServerConfig {
	return b.config
}

// Build creates a Server from the builder configuration.
func (b *ServerBuilder) Build() (*Server, error) {
	return NewServer(b.config)
}

// Run builds the server and serves until SIGINT or SIGTERM.
func (b *ServerBuilder) Run() error {
	server, err := b.Build()
	if err != nil {
		return err
	}
	if err := server.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.shutdownTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	err = server.Serve()
	if errors.Is(err, ErrServerClosed) {
		return nil
	}
	stop()
	return err
}
