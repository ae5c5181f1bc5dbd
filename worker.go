package maildrop

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sys/unix"

	"github.com/synqronlabs/maildrop/buffer"
	"github.com/synqronlabs/maildrop/dns"
	smtpio "github.com/synqronlabs/maildrop/io"
	"github.com/synqronlabs/maildrop/maildir"
	"github.com/synqronlabs/maildrop/metrics"
)

const initialConnections = 32

// Worker is a single-threaded event loop that owns a set of connections.
// Every field except the control channel is private to the goroutine
// running the loop.
type Worker struct {
	id       int
	config   *ServerConfig
	store    *maildir.Maildir
	resolver dns.Resolver
	control  *controlChannel
	logger   *slog.Logger

	conns   *buffer.Vector[*Connection]
	pollfds []unix.PollFd

	// localDomain is the normalized hostname recipients are compared with.
	localDomain string
	// deliveries numbers the spool files created by this worker.
	deliveries uint64
	rand       *rand.Rand
	stopping   bool
}

func newWorker(id int, config *ServerConfig, store *maildir.Maildir, resolver dns.Resolver, control *controlChannel) *Worker {
	return &Worker{
		id:          id,
		config:      config,
		store:       store,
		resolver:    resolver,
		control:     control,
		logger:      config.Logger.With(slog.Int("worker", id)),
		conns:       buffer.New[*Connection](initialConnections),
		localDomain: normalizeDomain(config.Hostname),
		rand:        rand.New(rand.NewPCG(rand.Uint64(), uint64(id))),
	}
}

// Len returns the number of connections the worker currently owns.
func (w *Worker) Len() int {
	return w.conns.Len()
}

// run is the event loop. It returns nil after a stop message and an error
// when the readiness wait fails.
func (w *Worker) run() error {
	defer w.shutdown()
	w.logger.Debug("worker started")

	for !w.stopping {
		if err := w.iterate(); err != nil {
			return err
		}
	}

	w.logger.Debug("worker stopped", slog.Int("connections", w.conns.Len()))
	return nil
}

// iterate waits for readiness once and services everything that is ready.
func (w *Worker) iterate() error {
	w.pollfds = w.pollfds[:0]
	w.pollfds = append(w.pollfds, unix.PollFd{Fd: int32(w.control.worker), Events: unix.POLLIN})
	for _, c := range w.conns.Slice() {
		events := int16(unix.POLLIN)
		if c.mode == ModeWriting {
			events = unix.POLLOUT
		}
		w.pollfds = append(w.pollfds, unix.PollFd{Fd: int32(c.fd), Events: events})
	}

	timeout := w.pollTimeout(time.Now())
	if _, err := unix.Poll(w.pollfds, timeout); err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("smtp: worker %d: poll: %w", w.id, err)
	}

	now := time.Now()
	for i, c := range w.conns.Slice() {
		w.service(c, w.pollfds[i+1].Revents, now)
	}
	w.reap(now)

	if w.pollfds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
		return w.handleControl(now)
	}
	return nil
}

// pollTimeout returns the readiness wait in milliseconds: the shortest
// time until a reading connection's deadline, capped by MaxPollWait.
func (w *Worker) pollTimeout(now time.Time) int {
	wait := w.config.MaxPollWait
	for _, c := range w.conns.Slice() {
		if c.mode != ModeReading {
			continue
		}
		if remaining := c.deadline.Sub(now); remaining < wait {
			wait = remaining
		}
	}
	if wait <= 0 {
		return 0
	}
	return int((wait + time.Millisecond - 1) / time.Millisecond)
}

const (
	readableEvents = unix.POLLIN | unix.POLLHUP | unix.POLLERR
	writableEvents = unix.POLLOUT | unix.POLLHUP | unix.POLLERR
)

// service performs the I/O one connection is ready for, or fires its
// timeout.
func (w *Worker) service(c *Connection, revents int16, now time.Time) {
	switch {
	case c.mode == ModeWriting && revents&writableEvents != 0:
		c.touch(now, w.config.Timeout)
		if _, err := c.flush(); err != nil {
			// The path is broken; no reply can be delivered.
			c.RecordError(err)
			c.logger.Warn("write failed", slog.Any("error", err))
			c.state = StateQuitted
			c.mode = ModeReading
		}

	case c.mode == ModeReading && revents&readableEvents != 0:
		c.touch(now, w.config.Timeout)
		n, err := c.fill()
		if errors.Is(err, unix.EAGAIN) {
			return
		}
		if err != nil || n == 0 {
			if err != nil {
				c.RecordError(err)
				c.logger.Warn("read failed", slog.Any("error", err))
			} else {
				c.logger.Debug("peer closed connection")
			}
			c.state = StateQuitted
			return
		}
		w.consume(c)

	case c.mode == ModeReading && now.After(c.deadline):
		w.dispatch(c, EventTimeout, nil)
	}
}

// consume frames the bytes just read and processes every completed line
// in arrival order.
func (w *Worker) consume(c *Connection) {
	ferr := c.framer.Feed(c.readBuf.Slice())

	for {
		line, ok := c.framer.Next()
		if !ok {
			break
		}
		w.processLine(c, line)
	}

	if errors.Is(ferr, smtpio.ErrLineTooLong) && c.state != StateQuitted {
		c.RecordError(ferr)
		c.logger.Info("line too long", slog.Int("limit", w.config.MaxLineLength))
		c.clearTransaction(w.store)
		c.reply(ResponseLineTooLong())
		c.state = StateQuitted
	}
}

// reap removes quitted connections whose final reply has been sent. The
// swap removal reorders the set, which carries no meaning.
func (w *Worker) reap(now time.Time) {
	for i := 0; i < w.conns.Len(); {
		c := w.conns.At(i)
		if c.state != StateQuitted || c.mode != ModeReading {
			i++
			continue
		}
		w.closeConnection(c, now)
		w.conns.RemoveAt(i)
	}
}

func (w *Worker) closeConnection(c *Connection, now time.Time) {
	c.close(w.store)
	metrics.SessionsActive.Dec()
	metrics.SessionDuration.Observe(now.Sub(c.Trace.ConnectedAt).Seconds())
	c.logger.Info("connection closed",
		slog.Int64("commands", c.Trace.CommandCount),
		slog.Int64("transactions", c.Trace.TransactionCount),
		slog.Int64("bytes_read", c.Trace.BytesRead),
		slog.Int64("bytes_written", c.Trace.BytesWritten),
		slog.Int("errors", len(c.Trace.Errors)),
	)
}

// handleControl processes exactly one message from the master. A broken
// control channel stops the worker and is returned so the master learns of it.
func (w *Worker) handleControl(now time.Time) error {
	msg, err := w.control.receive()
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	if err != nil {
		w.logger.Error("control channel failed, stopping", slog.Any("error", err))
		w.stopping = true
		return fmt.Errorf("smtp: worker %d: %w", w.id, err)
	}

	switch msg.kind {
	case controlStop:
		w.stopping = true
	case controlAssign:
		w.assign(int(msg.fd), now)
	}
	return nil
}

// assign takes ownership of an accepted socket and queues the greeting.
func (w *Worker) assign(fd int, now time.Time) *Connection {
	c := newConnection(fd, w.config.MaxLineLength, now, w.logger)
	c.touch(now, w.config.Timeout)
	c.reply(ResponseServiceReady(w.config.Hostname))
	w.conns.Push(c)

	metrics.SessionsActive.Inc()
	c.logger.Info("connection accepted")
	return c
}

// shutdown closes every remaining connection without a final reply.
func (w *Worker) shutdown() {
	now := time.Now()
	for _, c := range w.conns.Slice() {
		w.closeConnection(c, now)
	}
	w.conns.Close()
	w.control.closeWorker()
}
