// Package utils holds small helpers shared by the server and its workers.
package utils

import (
	"net"
	"net/netip"
	"os"
	"strconv"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sys/unix"
)

// NewSessionID returns a lexically sortable identifier for a connection.
func NewSessionID() string {
	return ulid.Make().String()
}

// IPFromSockaddr returns the address part of an inet socket address, or nil
// for any other family.
func IPFromSockaddr(sa unix.Sockaddr) net.IP {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).To16()
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return ip
	}
	return nil
}

// SockaddrString formats an inet socket address as host:port.
func SockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrInet6:
		addr := netip.AddrFrom16(a.Addr).Unmap()
		return netip.AddrPortFrom(addr, uint16(a.Port)).String()
	case *unix.SockaddrUnix:
		return a.Name
	}
	return "unknown"
}

// ResolveSockaddr converts a "host:port" listen address into a socket
// address. An empty host means the IPv4 wildcard.
func ResolveSockaddr(address string) (unix.Sockaddr, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, &net.AddrError{Err: "invalid port", Addr: address}
	}
	if host == "" {
		return &unix.SockaddrInet4{Port: int(port)}, nil
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil, &net.AddrError{Err: "host must be an IP address", Addr: address}
	}
	if addr.Is4() {
		return &unix.SockaddrInet4{Port: int(port), Addr: addr.As4()}, nil
	}
	return &unix.SockaddrInet6{Port: int(port), Addr: addr.As16()}, nil
}

// Hostname returns the system host name, or "localhost" if it is unknown.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	return name
}
