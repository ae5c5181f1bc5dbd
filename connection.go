package maildrop

import (
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/synqronlabs/maildrop/buffer"
	smtpio "github.com/synqronlabs/maildrop/io"
	"github.com/synqronlabs/maildrop/maildir"
	"github.com/synqronlabs/maildrop/metrics"
	"github.com/synqronlabs/maildrop/utils"
)

// ConnectionState represents the current phase of an SMTP session per
// RFC 5321 Section 4.1.4.
type ConnectionState int

const (
	// StateInit is the initial state; the greeting is queued.
	StateInit ConnectionState = iota
	// StateGreeted indicates HELO/EHLO has been accepted.
	StateGreeted
	// StateMailSet indicates MAIL FROM has been accepted.
	StateMailSet
	// StateRcptSet indicates at least one RCPT TO has been accepted.
	StateRcptSet
	// StateData indicates lines are message content until the end marker.
	StateData
	// StateQuitted is terminal; the connection is reaped once the final
	// reply has been flushed.
	StateQuitted
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateGreeted:
		return "GREETED"
	case StateMailSet:
		return "MAIL"
	case StateRcptSet:
		return "RCPT"
	case StateData:
		return "DATA"
	case StateQuitted:
		return "QUIT"
	default:
		return "UNKNOWN"
	}
}

// IOMode selects the readiness a connection waits for.
type IOMode int

const (
	ModeReading IOMode = iota
	ModeWriting
)

func (m IOMode) String() string {
	if m == ModeWriting {
		return "writing"
	}
	return "reading"
}

// ConnectionTrace contains tracing and diagnostic information for a connection.
// This is used for logging and for generating Received headers.
type ConnectionTrace struct {
	// ID is a unique identifier for this connection (for correlation in logs).
	ID string
	// Peer is the remote address as "ip:port".
	Peer string
	// PeerIP is the remote address, nil if it could not be determined.
	PeerIP net.IP
	// ConnectedAt is when the worker took the connection over.
	ConnectedAt time.Time
	// ClientHostname is the name or literal provided in EHLO/HELO.
	ClientHostname string
	// CommandCount is the total number of commands processed.
	CommandCount int64
	// TransactionCount is the number of mail transactions completed.
	TransactionCount int64
	BytesRead        int64
	BytesWritten     int64
	// LastActivity is the time of the last successful read or write.
	LastActivity time.Time
	// Errors contains errors encountered during the session.
	Errors []error
}

// recipient is an accepted forward-path and where it will be delivered.
type recipient struct {
	Address string
	Local   bool
}

// transaction holds what a MAIL FROM started. It is cleared on RSET, at
// the end of data, and when the connection closes.
type transaction struct {
	sender      string
	recipients  []recipient
	spool       *maildir.Spool
	spoolFailed bool
}

// Connection is one client session owned by a single Worker. It is never
// shared between goroutines, so it carries no locks.
type Connection struct {
	fd       int
	state    ConnectionState
	mode     IOMode
	deadline time.Time

	framer   *smtpio.Framer
	readBuf  *buffer.Vector[byte]
	writeBuf *buffer.Vector[byte]
	// written is the prefix of writeBuf already sent.
	written int

	tx transaction

	// Trace contains connection tracing and diagnostic information.
	Trace ConnectionTrace

	logger *slog.Logger
}

const (
	readChunkSize     = 4096
	initialWriteSize  = 512
	initialReadBuffer = readChunkSize
)

// newConnection wraps an accepted, non-blocking socket. fd may be -1 for a
// session that is driven without a socket.
func newConnection(fd int, maxLine int, now time.Time, logger *slog.Logger) *Connection {
	c := &Connection{
		fd:       fd,
		state:    StateInit,
		mode:     ModeReading,
		framer:   smtpio.NewFramer(maxLine),
		readBuf:  buffer.New[byte](initialReadBuffer),
		writeBuf: buffer.New[byte](initialWriteSize),
		Trace: ConnectionTrace{
			ID:           utils.NewSessionID(),
			Peer:         "unknown",
			ConnectedAt:  now,
			LastActivity: now,
		},
	}

	if fd >= 0 {
		if sa, err := unix.Getpeername(fd); err == nil {
			c.Trace.Peer = utils.SockaddrString(sa)
			c.Trace.PeerIP = utils.IPFromSockaddr(sa)
		}
	}

	c.logger = logger.With(
		slog.String("conn_id", c.Trace.ID),
		slog.String("remote", c.Trace.Peer),
	)
	return c
}

// State returns the current session state.
func (c *Connection) State() ConnectionState {
	return c.state
}

// Mode returns the readiness the connection currently waits for.
func (c *Connection) Mode() IOMode {
	return c.mode
}

// Recipients returns the forward-paths accepted in the current transaction.
func (c *Connection) Recipients() []string {
	out := make([]string, len(c.tx.recipients))
	for i, r := range c.tx.recipients {
		out[i] = r.Address
	}
	return out
}

// Sender returns the reverse-path of the current transaction.
func (c *Connection) Sender() string {
	return c.tx.sender
}

// reply appends r to the pending output and switches the connection to
// writing. Replies queued by one batch of lines are sent in order.
func (c *Connection) reply(r Response) {
	c.writeBuf.Append(r.AppendTo(nil)...)
	c.mode = ModeWriting
	metrics.Replies.WithLabelValues(strconv.Itoa(int(r.Code))).Inc()
	c.logger.Debug("reply queued", slog.Int("code", int(r.Code)))
}

// pending returns the bytes queued but not yet sent.
func (c *Connection) pending() []byte {
	return c.writeBuf.Slice()[c.written:]
}

// flush sends as much pending output as the socket accepts. It reports
// whether everything was sent; the buffer is cleared and the connection
// returns to reading in that case.
func (c *Connection) flush() (bool, error) {
	for c.written < c.writeBuf.Len() {
		n, err := unix.Write(c.fd, c.pending())
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				return false, nil
			}
			return false, err
		}
		c.written += n
		c.Trace.BytesWritten += int64(n)
	}

	c.writeBuf.Clear()
	c.written = 0
	c.mode = ModeReading
	return true, nil
}

// fill reads one chunk into the read buffer. A zero count with a nil error
// means the peer closed its side.
func (c *Connection) fill() (int, error) {
	c.readBuf.Clear()
	c.readBuf.ReserveAtLeast(readChunkSize)
	for {
		n, err := unix.Read(c.fd, c.readBuf.Spare())
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, err
		}
		c.readBuf.Extend(n)
		c.Trace.BytesRead += int64(n)
		return n, nil
	}
}

// touch refreshes the idle deadline after I/O progress.
func (c *Connection) touch(now time.Time, timeout time.Duration) {
	c.deadline = now.Add(timeout)
	c.Trace.LastActivity = now
}

// RecordError records an error for this connection.
func (c *Connection) RecordError(err error) {
	c.Trace.Errors = append(c.Trace.Errors, err)
}

// clearTransaction drops the sender and recipients and aborts an open
// spool file.
func (c *Connection) clearTransaction(store *maildir.Maildir) {
	if c.tx.spool != nil {
		name := c.tx.spool.Name()
		c.tx.spool.Abort()
		if err := store.Discard(name); err != nil {
			c.RecordError(err)
			c.logger.Warn("failed to discard incomplete message",
				slog.String("file", name),
				slog.Any("error", err),
			)
		}
	}
	c.tx = transaction{recipients: c.tx.recipients[:0]}
}

// close releases the socket and every buffer. It is only called by the
// owning worker.
func (c *Connection) close(store *maildir.Maildir) {
	c.clearTransaction(store)
	if c.fd >= 0 {
		unix.Close(c.fd)
		c.fd = -1
	}
	c.framer.Close()
	c.readBuf.Close()
	c.writeBuf.Close()
}
