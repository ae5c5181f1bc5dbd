package maildir

import (
	"time"

	"github.com/tinylib/msgp/msgp"
)

// Envelope is the SMTP envelope of a spooled message, stored next to it so
// a relay agent does not have to re-parse the transaction.
type Envelope struct {
	SessionID  string
	Helo       string
	Peer       string
	Sender     string
	Recipients []string
	Received   time.Time
	Size       int64
	Digest     string
}

const envelopeFields = 8

// MarshalMsg appends the MessagePack encoding of e to b.
func (e *Envelope) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.Require(b, e.Msgsize())
	o = msgp.AppendMapHeader(o, envelopeFields)
	o = msgp.AppendString(o, "session_id")
	o = msgp.AppendString(o, e.SessionID)
	o = msgp.AppendString(o, "helo")
	o = msgp.AppendString(o, e.Helo)
	o = msgp.AppendString(o, "peer")
	o = msgp.AppendString(o, e.Peer)
	o = msgp.AppendString(o, "sender")
	o = msgp.AppendString(o, e.Sender)
	o = msgp.AppendString(o, "recipients")
	o = msgp.AppendArrayHeader(o, uint32(len(e.Recipients)))
	for _, r := range e.Recipients {
		o = msgp.AppendString(o, r)
	}
	o = msgp.AppendString(o, "received")
	o = msgp.AppendTime(o, e.Received)
	o = msgp.AppendString(o, "size")
	o = msgp.AppendInt64(o, e.Size)
	o = msgp.AppendString(o, "digest")
	o = msgp.AppendString(o, e.Digest)
	return o, nil
}

// UnmarshalMsg decodes e from b and returns the remaining bytes. Unknown
// keys are skipped.
func (e *Envelope) UnmarshalMsg(b []byte) ([]byte, error) {
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, err
	}

	for range sz {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return b, err
		}

		switch msgp.UnsafeString(key) {
		case "session_id":
			e.SessionID, b, err = msgp.ReadStringBytes(b)
		case "helo":
			e.Helo, b, err = msgp.ReadStringBytes(b)
		case "peer":
			e.Peer, b, err = msgp.ReadStringBytes(b)
		case "sender":
			e.Sender, b, err = msgp.ReadStringBytes(b)
		case "recipients":
			var n uint32
			n, b, err = msgp.ReadArrayHeaderBytes(b)
			if err != nil {
				return b, err
			}
			e.Recipients = make([]string, n)
			for i := range e.Recipients {
				e.Recipients[i], b, err = msgp.ReadStringBytes(b)
				if err != nil {
					return b, err
				}
			}
		case "received":
			e.Received, b, err = msgp.ReadTimeBytes(b)
		case "size":
			e.Size, b, err = msgp.ReadInt64Bytes(b)
		case "digest":
			e.Digest, b, err = msgp.ReadStringBytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return b, err
		}
	}
	return b, nil
}

// Msgsize returns an upper bound for the encoded size of e.
func (e *Envelope) Msgsize() int {
	s := msgp.MapHeaderSize +
		11 + msgp.StringPrefixSize + len(e.SessionID) +
		5 + msgp.StringPrefixSize + len(e.Helo) +
		5 + msgp.StringPrefixSize + len(e.Peer) +
		7 + msgp.StringPrefixSize + len(e.Sender) +
		11 + msgp.ArrayHeaderSize +
		9 + msgp.TimeSize +
		5 + msgp.Int64Size +
		7 + msgp.StringPrefixSize + len(e.Digest)
	for _, r := range e.Recipients {
		s += msgp.StringPrefixSize + len(r)
	}
	return s
}
