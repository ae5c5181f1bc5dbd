// Command maildrop runs the inbound SMTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/synqronlabs/maildrop"
	"github.com/synqronlabs/maildrop/metrics"
	"github.com/synqronlabs/maildrop/utils"
)

// Version information, injected at build time.
var version = "dev"

const shutdownTimeout = 30 * time.Second

type options struct {
	port          int
	maildir       string
	workers       int
	dnsServer     string
	deterministic bool
	logFile       string
	hostname      string
	timeoutSecs   int
	configPath    string
	metricsAddr   string
	verifyHelo    bool
	logFormat     string
	logLevel      string
	showVersion   bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, map[string]bool, error) {
	o := &options{}
	fs.IntVar(&o.port, "p", 25, "TCP port to listen on")
	fs.StringVar(&o.maildir, "m", "./maildir/", "Maildir root")
	fs.IntVar(&o.workers, "t", 1, "Number of worker loops")
	fs.StringVar(&o.dnsServer, "d", "", "DNS server for HELO verification (default: system)")
	fs.BoolVar(&o.deterministic, "r", false, "Use deterministic <n>.mail filenames")
	fs.StringVar(&o.logFile, "l", "stderr", "Log file path, or stderr/stdout")
	fs.StringVar(&o.hostname, "n", "", "Hostname announced to clients (default: system host name)")
	fs.IntVar(&o.timeoutSecs, "s", 300, "Session idle timeout in seconds")
	fs.StringVar(&o.configPath, "c", "", "Path to TOML configuration file")
	fs.StringVar(&o.metricsAddr, "metrics", "", "Address for /metrics and /healthz")
	fs.BoolVar(&o.verifyHelo, "verify-helo", false, "Reject clients whose HELO domain does not match their address")
	fs.StringVar(&o.logFormat, "log-format", "text", "Log format: text or json")
	fs.StringVar(&o.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	fs.BoolVar(&o.showVersion, "version", false, "Show version information and exit")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var err error
	switch {
	case o.port < 1 || o.port > 65535:
		err = fmt.Errorf("invalid port %d", o.port)
	case o.workers < 1:
		err = fmt.Errorf("invalid worker count %d", o.workers)
	case o.timeoutSecs < 1:
		err = fmt.Errorf("invalid timeout %d", o.timeoutSecs)
	case o.logFormat != "text" && o.logFormat != "json":
		err = fmt.Errorf("invalid log format %q", o.logFormat)
	default:
		if _, lerr := parseLevel(o.logLevel); lerr != nil {
			err = fmt.Errorf("invalid log level %q", o.logLevel)
		}
	}
	if err != nil {
		fmt.Fprintf(fs.Output(), "%v\n", err)
		fs.Usage()
		return nil, nil, err
	}
	return o, set, nil
}

// apply overlays explicitly set flags on cfg, so they win over the file.
func (o *options) apply(cfg *maildrop.ServerConfig, set map[string]bool) {
	if set["p"] {
		cfg.Port = o.port
		cfg.ListenAddrs = nil
	}
	if set["m"] {
		cfg.MaildirPath = o.maildir
	}
	if set["t"] {
		cfg.Workers = o.workers
	}
	if set["d"] {
		cfg.DNSServer = o.dnsServer
	}
	if set["r"] {
		cfg.RandomFilenames = !o.deterministic
	}
	if set["n"] {
		cfg.Hostname = o.hostname
	}
	if set["s"] {
		cfg.Timeout = time.Duration(o.timeoutSecs) * time.Second
	}
	if set["metrics"] {
		cfg.MetricsAddr = o.metricsAddr
	}
	if set["verify-helo"] {
		cfg.VerifyHelo = o.verifyHelo
	}
	if cfg.Hostname == "" {
		cfg.Hostname = utils.Hostname()
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}

// openLog returns the log destination and a function that closes it.
func openLog(path string) (io.Writer, func(), error) {
	switch strings.ToLower(path) {
	case "", "stderr":
		return os.Stderr, func() {}, nil
	case "stdout":
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("maildrop", flag.ContinueOnError)
	opts, set, err := parseFlags(fs, args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 2
	}

	if opts.showVersion {
		fmt.Printf("maildrop version %s\n", version)
		return 0
	}

	level, _ := parseLevel(opts.logLevel)

	out, closeLog, err := openLog(opts.logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "maildrop: opening log file: %v\n", err)
		return 1
	}
	defer closeLog()
	logger := newLogger(out, opts.logFormat, level)

	cfg := maildrop.DefaultServerConfig()
	cfg.Logger = logger
	if opts.configPath != "" {
		if err := maildrop.LoadConfigFile(opts.configPath, &cfg); err != nil {
			logger.Error("failed to load configuration", slog.Any("error", err))
			return 1
		}
	}
	opts.apply(&cfg, set)

	server, err := maildrop.NewServer(cfg)
	if err != nil {
		logger.Error("failed to create server", slog.Any("error", err))
		return 1
	}
	if err := server.Listen(); err != nil {
		logger.Error("failed to listen", slog.Any("error", err))
		server.Shutdown(context.Background())
		return 1
	}

	cfg = server.Config()
	logger.Info("maildrop starting",
		slog.String("version", version),
		slog.String("hostname", cfg.Hostname),
		slog.Any("addrs", server.Addrs()),
		slog.Int("workers", cfg.Workers),
		slog.String("maildir", cfg.MaildirPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Warn("metrics endpoint stopped", slog.Any("error", err))
			}
		}()
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", slog.Any("error", err))
		}
	}()

	if err := server.Serve(); err != nil && !errors.Is(err, maildrop.ErrServerClosed) {
		logger.Error("server failed", slog.Any("error", err))
		return 1
	}
	logger.Info("maildrop stopped")
	return 0
}
