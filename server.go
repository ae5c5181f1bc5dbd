package maildrop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/synqronlabs/maildrop/dns"
	"github.com/synqronlabs/maildrop/maildir"
	"github.com/synqronlabs/maildrop/metrics"
	"github.com/synqronlabs/maildrop/utils"
)

// Server is the master: it accepts connections on every listening socket
// and hands each one to the least loaded worker.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	store    *maildir.Maildir
	resolver dns.Resolver

	mu        sync.Mutex
	listeners []*listener
	workers   []*Worker
	running   bool
	// wake is a self-pipe that interrupts the master's readiness wait.
	wakeR, wakeW int
	fatalErr     error

	// loads counts assignments per worker. Only the master increments
	// them and nothing decrements them, so they approximate load.
	loads []atomic.Int64

	closing atomic.Bool
	done    chan struct{}
}

// NewServer creates a new SMTP server with the given configuration. The
// maildir tree is created here; failing to do so is fatal.
func NewServer(config ServerConfig) (*Server, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	store, err := maildir.Open(config.MaildirPath, maildir.Options{Envelopes: config.WriteEnvelope})
	if err != nil {
		return nil, err
	}

	resolver := config.Resolver
	if resolver == nil && config.VerifyHelo {
		if config.DNSServer != "" {
			r, err := dns.NewResolver(dns.ResolverConfig{Nameservers: []string{config.DNSServer}})
			if err != nil {
				return nil, err
			}
			resolver = r
		} else {
			resolver = dns.NewStdResolver()
		}
	}

	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("smtp: wake pipe: %w", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		unix.SetNonblock(fd, true)
	}

	return &Server{
		config:   config,
		logger:   config.Logger,
		store:    store,
		resolver: resolver,
		wakeR:    p[0],
		wakeW:    p[1],
		loads:    make([]atomic.Int64, config.Workers),
		done:     make(chan struct{}),
	}, nil
}

// Config returns the effective configuration, defaults applied.
func (s *Server) Config() ServerConfig {
	return s.config
}

// Listen binds every configured address. An IPv6 address is skipped with a
// warning on hosts without IPv6 as long as another address binds.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing.Load() {
		return ErrServerClosed
	}
	if len(s.listeners) > 0 {
		return ErrServerRunning
	}

	var firstErr error
	for _, addr := range s.config.ListenAddrs {
		l, err := listen(addr)
		if err != nil {
			if isUnsupportedFamily(err) && len(s.config.ListenAddrs) > 1 {
				s.logger.Warn("address family unavailable, skipping",
					slog.String("addr", addr),
					slog.Any("error", err),
				)
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		s.listeners = append(s.listeners, l)
		s.logger.Info("listening", slog.String("addr", l.addr), slog.String("family", l.family))
	}

	if firstErr == nil && len(s.listeners) == 0 {
		firstErr = ErrNoListeners
	}
	if firstErr != nil {
		for _, l := range s.listeners {
			l.close()
		}
		s.listeners = nil
		return firstErr
	}
	return nil
}

// Addrs returns the bound addresses, with the ports chosen by the kernel
// for ":0" addresses.
func (s *Server) Addrs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]string, len(s.listeners))
	for i, l := range s.listeners {
		addrs[i] = l.addr
	}
	return addrs
}

// Loads returns a snapshot of the per-worker assignment counters.
func (s *Server) Loads() []int64 {
	out := make([]int64, len(s.loads))
	for i := range s.loads {
		out[i] = s.loads[i].Load()
	}
	return out
}

// ListenAndServe binds the configured addresses and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve starts the workers and runs the accept loop. It returns
// ErrServerClosed after Shutdown, or the error that stopped a worker or the
// master.
func (s *Server) Serve() error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if s.running {
		s.mu.Unlock()
		return ErrServerRunning
	}
	if len(s.listeners) == 0 {
		s.mu.Unlock()
		return ErrNotListening
	}
	s.running = true
	s.mu.Unlock()

	defer close(s.done)

	var wg sync.WaitGroup
	err := s.startWorkers(&wg)
	if err == nil {
		err = s.acceptLoop()
	}

	s.stopWorkers()
	wg.Wait()
	s.release()

	if err != nil {
		s.logger.Error("server stopped", slog.Any("error", err))
		return err
	}
	s.logger.Info("server stopped")
	return ErrServerClosed
}

func (s *Server) startWorkers(wg *sync.WaitGroup) error {
	for i := range s.config.Workers {
		ch, err := newControlChannel()
		if err != nil {
			return err
		}
		w := newWorker(i, &s.config, s.store, s.resolver, ch)
		s.mu.Lock()
		s.workers = append(s.workers, w)
		s.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.run(); err != nil {
				s.fail(err)
			}
		}()
	}
	s.logger.Info("workers started", slog.Int("workers", s.config.Workers))
	return nil
}

// acceptLoop waits on the listeners and the wake pipe until shutdown or a
// fatal worker error.
func (s *Server) acceptLoop() error {
	pollfds := make([]unix.PollFd, 0, len(s.listeners)+1)
	for _, l := range s.listeners {
		pollfds = append(pollfds, unix.PollFd{Fd: int32(l.fd), Events: unix.POLLIN})
	}
	wake := len(pollfds)
	pollfds = append(pollfds, unix.PollFd{Fd: int32(s.wakeR), Events: unix.POLLIN})

	for {
		if _, err := unix.Poll(pollfds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("smtp: master: poll: %w", err)
		}

		if pollfds[wake].Revents != 0 {
			s.drainWake()
			if err := s.fatal(); err != nil {
				return err
			}
			if s.closing.Load() {
				return nil
			}
		}

		for i, l := range s.listeners {
			if pollfds[i].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0 {
				s.acceptAll(l)
			}
		}
	}
}

// acceptAll drains the listener's backlog.
func (s *Server) acceptAll(l *listener) {
	for {
		fd, sa, err := l.accept()
		if errors.Is(err, unix.EAGAIN) {
			return
		}
		if err != nil {
			s.logger.Warn("accept failed", slog.String("addr", l.addr), slog.Any("error", err))
			return
		}
		metrics.ConnectionsAccepted.WithLabelValues(l.family).Inc()

		i := pickWorker(s.loads)
		if err := s.workers[i].control.send(controlMessage{kind: controlAssign, fd: int32(fd)}); err != nil {
			s.logger.Error("failed to hand over connection",
				slog.Int("worker", i),
				slog.String("remote", utils.SockaddrString(sa)),
				slog.Any("error", err),
			)
			unix.Close(fd)
			continue
		}
		// The descriptor belongs to the worker from here on.
		s.loads[i].Add(1)
		metrics.WorkerAssignments.WithLabelValues(strconv.Itoa(i)).Inc()
		s.logger.Debug("connection assigned",
			slog.Int("worker", i),
			slog.String("remote", utils.SockaddrString(sa)),
		)
	}
}

// pickWorker returns the index of the smallest counter, the first one on
// ties.
func pickWorker(loads []atomic.Int64) int {
	best := 0
	for i := 1; i < len(loads); i++ {
		if loads[i].Load() < loads[best].Load() {
			best = i
		}
	}
	return best
}

func (s *Server) stopWorkers() {
	for _, w := range s.workers {
		if err := w.control.send(controlMessage{kind: controlStop, fd: -1}); err != nil {
			s.logger.Debug("worker did not take stop message", slog.Int("worker", w.id), slog.Any("error", err))
		}
	}
}

// release closes the listeners, the master ends of the control channels
// and the wake pipe once every worker has returned.
func (s *Server) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.workers {
		w.control.closeMaster()
	}
	for _, l := range s.listeners {
		l.close()
	}
	s.listeners = nil
	s.closeWake()
}

func (s *Server) closeWake() {
	if s.wakeR >= 0 {
		unix.Close(s.wakeR)
		unix.Close(s.wakeW)
		s.wakeR, s.wakeW = -1, -1
	}
}

// wake interrupts the accept loop. The caller holds s.mu.
func (s *Server) wake() {
	if s.wakeW < 0 {
		return
	}
	b := [1]byte{1}
	for {
		_, err := unix.Write(s.wakeW, b[:])
		if !errors.Is(err, unix.EINTR) {
			return
		}
	}
}

func (s *Server) drainWake() {
	var b [64]byte
	for {
		n, err := unix.Read(s.wakeR, b[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || n < len(b) {
			return
		}
	}
}

// fail records the first fatal worker error and wakes the master.
func (s *Server) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
	s.wake()
}

func (s *Server) fatal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalErr
}

// Shutdown stops accepting, tells every worker to stop and waits for them.
// Open sessions are closed without a final reply. If ctx expires first,
// its error is returned and the stop continues in the background.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)

	s.mu.Lock()
	running := s.running
	if !running {
		for _, l := range s.listeners {
			l.close()
		}
		s.listeners = nil
		s.closeWake()
		s.mu.Unlock()
		return nil
	}
	s.wake()
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
