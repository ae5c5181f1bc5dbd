package maildrop

import (
	"bytes"
	"log/slog"
)

// Event is an input to the session state machine.
type Event int

const (
	EventHelo Event = iota
	EventEhlo
	EventVrfy
	EventMailFrom
	EventRcptTo
	EventData
	EventEndData
	EventRset
	EventQuit
	EventNoop
	EventNotImplemented
	EventUnknown
	EventTimeout
)

func (e Event) String() string {
	switch e {
	case EventHelo:
		return "HELO"
	case EventEhlo:
		return "EHLO"
	case EventVrfy:
		return "VRFY"
	case EventMailFrom:
		return "MAIL FROM"
	case EventRcptTo:
		return "RCPT TO"
	case EventData:
		return "DATA"
	case EventEndData:
		return "END DATA"
	case EventRset:
		return "RSET"
	case EventQuit:
		return "QUIT"
	case EventNoop:
		return "NOOP"
	case EventNotImplemented:
		return "NOT IMPLEMENTED"
	case EventTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

func eventFor(kind CommandKind) Event {
	switch kind {
	case CmdHelo:
		return EventHelo
	case CmdEhlo:
		return EventEhlo
	case CmdVrfy:
		return EventVrfy
	case CmdRset:
		return EventRset
	case CmdQuit:
		return EventQuit
	case CmdMailFrom:
		return EventMailFrom
	case CmdRcptTo:
		return EventRcptTo
	case CmdData:
		return EventData
	case CmdNoop:
		return EventNoop
	case CmdNotImplemented:
		return EventNotImplemented
	default:
		return EventUnknown
	}
}

// handler runs one transition. It validates the captures it needs, updates
// the session and queues exactly one reply.
type handler func(w *Worker, c *Connection, m *Match)

// transitions lists the permitted events per state. A well-formed command
// missing from its state's row is answered with 503 and changes nothing.
// StateData only accepts the end-of-data marker; every other line is
// message content. StateQuitted accepts nothing.
var transitions = map[ConnectionState]map[Event]handler{
	StateInit: {
		EventHelo:           (*Worker).handleHelo,
		EventEhlo:           (*Worker).handleEhlo,
		EventRset:           (*Worker).handleRset,
		EventQuit:           (*Worker).handleQuit,
		EventNoop:           (*Worker).handleNoop,
		EventNotImplemented: (*Worker).handleNotImplemented,
	},
	StateGreeted: {
		EventVrfy:           (*Worker).handleVrfy,
		EventMailFrom:       (*Worker).handleMailFrom,
		EventRset:           (*Worker).handleRset,
		EventQuit:           (*Worker).handleQuit,
		EventNoop:           (*Worker).handleNoop,
		EventNotImplemented: (*Worker).handleNotImplemented,
	},
	StateMailSet: {
		EventVrfy:           (*Worker).handleVrfy,
		EventRcptTo:         (*Worker).handleRcptTo,
		EventRset:           (*Worker).handleRset,
		EventQuit:           (*Worker).handleQuit,
		EventNoop:           (*Worker).handleNoop,
		EventNotImplemented: (*Worker).handleNotImplemented,
	},
	StateRcptSet: {
		EventVrfy:           (*Worker).handleVrfy,
		EventRcptTo:         (*Worker).handleRcptTo,
		EventData:           (*Worker).handleData,
		EventRset:           (*Worker).handleRset,
		EventQuit:           (*Worker).handleQuit,
		EventNoop:           (*Worker).handleNoop,
		EventNotImplemented: (*Worker).handleNotImplemented,
	},
	StateData: {
		EventEndData: (*Worker).handleEndData,
	},
}

// dispatch feeds one event to the state machine and releases m.
func (w *Worker) dispatch(c *Connection, ev Event, m *Match) {
	defer m.Release()

	if c.state == StateQuitted {
		return
	}

	c.Trace.CommandCount++
	from := c.state

	switch ev {
	case EventUnknown:
		c.reply(ResponseCommandUnrecognized())
	case EventTimeout:
		w.handleTimeout(c)
	default:
		h, ok := transitions[c.state][ev]
		if !ok {
			c.reply(ResponseBadSequence())
			break
		}
		h(w, c, m)
	}

	if c.state != from {
		c.logger.Debug("session state changed",
			slog.String("event", ev.String()),
			slog.String("from", from.String()),
			slog.String("to", c.state.String()),
		)
	}
}

var endOfData = []byte(".")

// processLine routes one framed line to the message body or to the
// command parser. Lines after the session has quit are dropped.
func (w *Worker) processLine(c *Connection, line []byte) {
	switch c.state {
	case StateQuitted:
		return
	case StateData:
		if bytes.Equal(line, endOfData) {
			w.dispatch(c, EventEndData, nil)
			return
		}
		w.writeBody(c, line)
		return
	}

	m := ParseCommand(line)
	c.logger.Debug("command received", slog.String("command", m.Kind.String()))
	w.dispatch(c, eventFor(m.Kind), m)
}

// writeBody spools one content line, removing the transparency dot of
// RFC 5321 section 4.5.2. A write failure is remembered and reported when
// the data ends.
func (w *Worker) writeBody(c *Connection, line []byte) {
	if c.tx.spoolFailed || c.tx.spool == nil {
		return
	}
	if len(line) > 1 && line[0] == '.' {
		line = line[1:]
	}
	if err := c.tx.spool.WriteLine(line); err != nil {
		c.tx.spoolFailed = true
		c.RecordError(err)
		c.logger.Warn("failed to write message content", slog.Any("error", err))
	}
}
