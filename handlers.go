package maildrop

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/synqronlabs/maildrop/dns"
	"github.com/synqronlabs/maildrop/metrics"
)

// handleHelo processes the HELO command.
func (w *Worker) handleHelo(c *Connection, m *Match) {
	domain, ok := m.Get(CaptureDomain)
	if !ok {
		c.reply(ResponseSyntaxError())
		return
	}
	if !w.verifyClient(c, domain, nil) {
		return
	}

	c.Trace.ClientHostname = domain
	c.state = StateGreeted
	c.reply(ResponseHelo(w.config.Hostname, domain))
}

// handleEhlo processes the EHLO command. The client may identify itself by
// a domain or by an address literal.
func (w *Worker) handleEhlo(c *Connection, m *Match) {
	var (
		client  string
		literal net.IP
	)

	if domain, ok := m.Get(CaptureDomain); ok {
		client = domain
	} else if v4, ok := m.Get(CaptureIPv4); ok {
		addr, err := netip.ParseAddr(v4)
		if err != nil || !addr.Is4() {
			c.reply(ResponseSyntaxError())
			return
		}
		client = "[" + v4 + "]"
		literal = net.IP(addr.AsSlice())
	} else if v6, ok := m.Get(CaptureIPv6); ok {
		addr, err := netip.ParseAddr(v6)
		if err != nil || !addr.Is6() {
			c.reply(ResponseSyntaxError())
			return
		}
		client = "[IPv6:" + v6 + "]"
		literal = net.IP(addr.AsSlice())
	} else {
		c.reply(ResponseSyntaxError())
		return
	}

	if !w.verifyClient(c, client, literal) {
		return
	}

	c.Trace.ClientHostname = client
	c.state = StateGreeted
	c.reply(ResponseEhlo(w.config.Hostname, client))
}

// verifyClient checks the HELO/EHLO identity against the peer address when
// verification is enabled. A rejected client gets a 421 and is quitted.
func (w *Worker) verifyClient(c *Connection, domain string, literal net.IP) bool {
	if !w.config.VerifyHelo {
		return true
	}

	var err error
	if literal != nil {
		err = dns.VerifyLiteral(literal, c.Trace.PeerIP)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), w.config.VerifyTimeout)
		err = dns.VerifyHelo(ctx, w.resolver, domain, c.Trace.PeerIP)
		cancel()
	}

	switch {
	case err == nil:
		metrics.HeloVerifications.WithLabelValues("pass").Inc()
		return true
	case errors.Is(err, dns.ErrHeloMismatch):
		metrics.HeloVerifications.WithLabelValues("mismatch").Inc()
	default:
		metrics.HeloVerifications.WithLabelValues("error").Inc()
	}

	c.RecordError(err)
	c.logger.Info("client identity rejected",
		slog.String("helo", domain),
		slog.Any("error", err),
	)
	c.reply(ResponseClosingChannel())
	c.state = StateQuitted
	return false
}

// handleVrfy answers every verification request negatively.
func (w *Worker) handleVrfy(c *Connection, _ *Match) {
	c.reply(ResponseNoSuchUser())
}

// handleRset aborts the transaction. RFC 5321 section 4.1.1.5.
func (w *Worker) handleRset(c *Connection, _ *Match) {
	c.clearTransaction(w.store)
	c.state = StateGreeted
	c.reply(ResponseOK())
}

func (w *Worker) handleNoop(c *Connection, _ *Match) {
	c.reply(ResponseOK())
}

func (w *Worker) handleNotImplemented(c *Connection, _ *Match) {
	c.reply(ResponseCommandNotImplemented())
}

func (w *Worker) handleQuit(c *Connection, _ *Match) {
	c.clearTransaction(w.store)
	c.state = StateQuitted
	c.reply(ResponseServiceClosing(w.config.Hostname))
}

// handleMailFrom starts a transaction. The null reverse-path is kept as "".
func (w *Worker) handleMailFrom(c *Connection, m *Match) {
	sender, ok := m.Get(CaptureSender)
	if !ok {
		c.reply(ResponseSyntaxError())
		return
	}

	c.tx.sender = strings.TrimSuffix(strings.TrimPrefix(sender, "<"), ">")
	c.state = StateMailSet
	c.reply(ResponseOK())
}

// handleRcptTo adds a recipient, up to the configured limit.
func (w *Worker) handleRcptTo(c *Connection, m *Match) {
	if !m.Has(CaptureRecipient) {
		c.reply(ResponseSyntaxError())
		return
	}
	if len(c.tx.recipients) >= w.config.MaxRecipients {
		c.RecordError(ErrTooManyRecipients)
		c.reply(ResponseTooManyRecipients())
		return
	}

	rcpt, ok := w.route(m)
	if !ok {
		c.reply(ResponseSyntaxError())
		return
	}

	c.tx.recipients = append(c.tx.recipients, rcpt)
	c.state = StateRcptSet
	if w.config.AnnounceRelay && !rcpt.Local {
		c.reply(ResponseUserNotLocal(rcpt.Address))
		return
	}
	c.reply(ResponseOK())
}

// handleData opens the spool file and switches the session to message
// content. Nothing changes if the file cannot be created.
func (w *Worker) handleData(c *Connection, _ *Match) {
	now := time.Now()
	name := w.nextFilename(now)

	spool, err := w.store.CreateTemp(name)
	if err != nil {
		metrics.DeliveryErrors.WithLabelValues("create").Inc()
		c.RecordError(err)
		c.logger.Error("failed to create spool file", slog.Any("error", err))
		c.reply(ResponseLocalError())
		return
	}
	c.tx.spool = spool

	if w.config.ReceivedHeader {
		if err := writeReceived(spool, c, w.config.Hostname, now); err != nil {
			metrics.DeliveryErrors.WithLabelValues("write").Inc()
			c.RecordError(err)
			c.logger.Error("failed to write trace header", slog.Any("error", err))
			spool.Abort()
			w.store.Discard(name)
			c.tx.spool = nil
			c.reply(ResponseLocalError())
			return
		}
	}

	c.state = StateData
	c.reply(ResponseStartMailInput())
}

// handleEndData finalizes the message and ends the transaction.
func (w *Worker) handleEndData(c *Connection, _ *Match) {
	if err := w.deliver(c); err != nil {
		c.RecordError(err)
		c.logger.Error("message not delivered", slog.Any("error", err))
		c.reply(ResponseLocalError())
	} else {
		c.Trace.TransactionCount++
		c.reply(ResponseOK())
	}

	c.clearTransaction(w.store)
	c.state = StateGreeted
}

// handleTimeout closes a session that stayed idle past its deadline.
func (w *Worker) handleTimeout(c *Connection) {
	metrics.SessionTimeouts.Inc()
	c.logger.Info("session timed out", slog.String("state", c.state.String()))
	c.clearTransaction(w.store)
	c.reply(ResponseClosingChannel())
	c.state = StateQuitted
}
