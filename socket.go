package maildrop

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/synqronlabs/maildrop/utils"
)

const listenBacklog = 128

// listener is a bound, non-blocking listening socket.
type listener struct {
	fd     int
	family string
	addr   string
}

func sockaddrFamily(sa unix.Sockaddr) (int, string) {
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		return unix.AF_INET6, "ipv6"
	}
	return unix.AF_INET, "ipv4"
}

// listen binds address, an "ip:port" pair. IPv6 sockets are restricted to
// IPv6 so that a wildcard IPv4 listener can share the port.
func listen(address string) (*listener, error) {
	sa, err := utils.ResolveSockaddr(address)
	if err != nil {
		return nil, fmt.Errorf("smtp: listen %s: %w", address, err)
	}
	domain, family := sockaddrFamily(sa)

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("smtp: listen %s: socket: %w", address, err)
	}
	unix.CloseOnExec(fd)

	fail := func(op string, err error) (*listener, error) {
		unix.Close(fd)
		return nil, fmt.Errorf("smtp: listen %s: %s: %w", address, op, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}
	if domain == unix.AF_INET6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			return fail("setsockopt", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		return fail("listen", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail("nonblock", err)
	}

	l := &listener{fd: fd, family: family, addr: address}
	if bound, err := unix.Getsockname(fd); err == nil {
		l.addr = utils.SockaddrString(bound)
	}
	return l, nil
}

// accept returns the next pending connection as a non-blocking socket.
// unix.EAGAIN means the backlog is drained.
func (l *listener) accept() (int, unix.Sockaddr, error) {
	for {
		fd, sa, err := unix.Accept(l.fd)
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
			continue
		}
		if err != nil {
			return -1, nil, err
		}
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			return -1, nil, err
		}
		return fd, sa, nil
	}
}

func (l *listener) close() {
	if l.fd >= 0 {
		unix.Close(l.fd)
		l.fd = -1
	}
}

// isUnsupportedFamily reports errors from hosts without IPv6.
func isUnsupportedFamily(err error) bool {
	return errors.Is(err, unix.EAFNOSUPPORT) || errors.Is(err, unix.EADDRNOTAVAIL)
}
