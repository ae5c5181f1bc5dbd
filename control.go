package maildrop

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// controlKind tags a message from the master to a worker.
type controlKind uint32

const (
	controlStop controlKind = iota
	controlAssign
)

func (k controlKind) String() string {
	switch k {
	case controlStop:
		return "stop"
	case controlAssign:
		return "assign"
	default:
		return fmt.Sprintf("controlKind(%d)", uint32(k))
	}
}

// controlMessageSize is the fixed record size: kind then descriptor, both
// little endian.
const controlMessageSize = 8

type controlMessage struct {
	kind controlKind
	// fd is the socket handed over by an assign message, -1 otherwise.
	fd int32
}

func (m controlMessage) encode() [controlMessageSize]byte {
	var b [controlMessageSize]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(m.kind))
	binary.LittleEndian.PutUint32(b[4:8], uint32(m.fd))
	return b
}

func decodeControl(b []byte) (controlMessage, error) {
	if len(b) != controlMessageSize {
		return controlMessage{}, fmt.Errorf("%w: short record of %d bytes", ErrControlChannel, len(b))
	}
	m := controlMessage{
		kind: controlKind(binary.LittleEndian.Uint32(b[0:4])),
		fd:   int32(binary.LittleEndian.Uint32(b[4:8])),
	}
	if m.kind != controlStop && m.kind != controlAssign {
		return controlMessage{}, fmt.Errorf("%w: unknown message %s", ErrControlChannel, m.kind)
	}
	return m, nil
}

// controlChannel is a datagram socket pair between the master and one
// worker. Each record is one datagram, so reads never see partial messages.
// The master writes to one end and the worker reads from the other.
type controlChannel struct {
	master int
	worker int
}

func newControlChannel() (*controlChannel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrControlChannel, err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	return &controlChannel{master: fds[0], worker: fds[1]}, nil
}

// send delivers m to the worker. It blocks only if the worker stopped
// draining its queue.
func (ch *controlChannel) send(m controlMessage) error {
	b := m.encode()
	for {
		_, err := unix.Write(ch.master, b[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrControlChannel, err)
		}
		return nil
	}
}

// receive reads one message on the worker side. An empty datagram or a
// closed master end reads as stop.
func (ch *controlChannel) receive() (controlMessage, error) {
	var b [controlMessageSize]byte
	for {
		n, err := unix.Read(ch.worker, b[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return controlMessage{}, fmt.Errorf("%w: %w", ErrControlChannel, err)
		}
		if n == 0 {
			return controlMessage{kind: controlStop, fd: -1}, nil
		}
		return decodeControl(b[:n])
	}
}

func (ch *controlChannel) closeMaster() {
	if ch.master >= 0 {
		unix.Close(ch.master)
		ch.master = -1
	}
}

func (ch *controlChannel) closeWorker() {
	if ch.worker >= 0 {
		unix.Close(ch.worker)
		ch.worker = -1
	}
}
