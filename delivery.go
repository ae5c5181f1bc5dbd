package maildrop

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"
	"golang.org/x/net/idna"

	"github.com/synqronlabs/maildrop/maildir"
	"github.com/synqronlabs/maildrop/metrics"
)

// normalizeDomain returns the ASCII, lower-case form of a domain without a
// trailing dot, so names from clients and from configuration compare equal.
func normalizeDomain(domain string) string {
	domain = strings.TrimSuffix(domain, ".")
	if ascii, err := idna.Lookup.ToASCII(domain); err == nil {
		domain = ascii
	}
	return strings.ToLower(domain)
}

func (w *Worker) isLocalDomain(domain string) bool {
	return normalizeDomain(domain) == w.localDomain
}

// route classifies an accepted RCPT TO. Postmaster without a domain is
// always local, address literals always go to relay.
func (w *Worker) route(m *Match) (recipient, bool) {
	switch {
	case m.Has(CaptureThisPostmaster):
		return recipient{Address: "Postmaster", Local: true}, true

	case m.Has(CaptureOtherPostmaster):
		domain, ok := m.Get(CapturePostmasterDomain)
		if !ok {
			return recipient{}, false
		}
		return recipient{Address: "postmaster@" + domain, Local: w.isLocalDomain(domain)}, true

	case m.Has(CaptureForwardPath):
		if !m.Has(CaptureLocalPart) {
			return recipient{}, false
		}
		path, _ := m.Get(CaptureForwardPath)
		addr := strings.TrimSuffix(strings.TrimPrefix(path, "<"), ">")
		domain, ok := m.Get(CaptureDomain)
		return recipient{Address: addr, Local: ok && w.isLocalDomain(domain)}, true
	}
	return recipient{}, false
}

// nextFilename names the next spool file of this worker.
func (w *Worker) nextFilename(now time.Time) string {
	delivery := w.deliveries
	w.deliveries++
	if !w.config.RandomFilenames {
		return maildir.DeterministicFilename(w.id, delivery, w.config.Workers > 1)
	}
	return maildir.GenerateFilename(now, w.rand.Uint32(), os.Getpid(), w.id, delivery, w.config.Hostname)
}

// writeReceived writes the Received trace field (RFC 5321 section 4.4) at
// the top of the message.
func writeReceived(dst io.Writer, c *Connection, hostname string, now time.Time) error {
	peer := "unknown"
	if c.Trace.PeerIP != nil {
		peer = c.Trace.PeerIP.String()
	}
	helo := c.Trace.ClientHostname
	if helo == "" {
		helo = "unknown"
	}

	value := fmt.Sprintf("from %s (%s) by %s with SMTP id %s", helo, peer, hostname, c.Trace.ID)
	if len(c.tx.recipients) == 1 {
		value += fmt.Sprintf(" for <%s>", c.tx.recipients[0].Address)
	}
	value += "; " + now.Format(time.RFC1123Z)

	var h textproto.Header
	h.Add("Received", value)

	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, h); err != nil {
		return err
	}
	// WriteHeader ends the header section with an empty line; the client's
	// own header fields follow instead.
	field := bytes.TrimSuffix(buf.Bytes(), []byte("\r\n"))
	_, err := dst.Write(field)
	return err
}

// deliver closes the spool file and moves it to its destination folders.
// A message with a local and a remote recipient is linked into cur/ and
// then moved to relay/.
func (w *Worker) deliver(c *Connection) error {
	spool := c.tx.spool
	if spool == nil {
		return fmt.Errorf("smtp: no message in progress")
	}
	c.tx.spool = nil
	name := spool.Name()

	fail := func(op string, err error) error {
		metrics.DeliveryErrors.WithLabelValues(op).Inc()
		if derr := w.store.Discard(name); derr != nil {
			c.logger.Warn("failed to discard message", slog.String("file", name), slog.Any("error", derr))
		}
		return err
	}

	if c.tx.spoolFailed {
		spool.Abort()
		return fail("write", fmt.Errorf("smtp: message %s incomplete", name))
	}
	if err := spool.Close(); err != nil {
		return fail("close", err)
	}

	var local, remote bool
	for _, r := range c.tx.recipients {
		if r.Local {
			local = true
		} else {
			remote = true
		}
	}

	if w.config.WriteEnvelope {
		env := &maildir.Envelope{
			SessionID:  c.Trace.ID,
			Helo:       c.Trace.ClientHostname,
			Peer:       c.Trace.Peer,
			Sender:     c.tx.sender,
			Recipients: c.Recipients(),
			Received:   time.Now(),
			Size:       spool.Size(),
			Digest:     spool.Digest(),
		}
		if err := w.store.WriteEnvelope(name, env); err != nil {
			return fail("envelope", err)
		}
	}

	destination := "local"
	switch {
	case local && remote:
		destination = "both"
		if err := w.store.LinkToLocal(name); err != nil {
			return fail("link", err)
		}
		if err := w.store.MoveToRelay(name); err != nil {
			return fail("move", err)
		}
	case remote:
		destination = "relay"
		if err := w.store.MoveToRelay(name); err != nil {
			return fail("move", err)
		}
	default:
		if err := w.store.MoveToLocal(name); err != nil {
			return fail("move", err)
		}
	}

	metrics.Deliveries.WithLabelValues(destination).Inc()
	metrics.MessageSize.Observe(float64(spool.Size()))
	c.logger.Info("message spooled",
		slog.String("file", name),
		slog.String("destination", destination),
		slog.Int64("size", spool.Size()),
		slog.String("blake3", spool.Digest()),
		slog.Int("recipients", len(c.tx.recipients)),
	)
	return nil
}
