// Package dns resolves the names a client announces in HELO/EHLO so the
// server can check them against the connecting address.
package dns

import (
	"context"
	"errors"
	"net"
)

var (
	ErrDNSNotFound  = errors.New("dns: record not found")
	ErrDNSServFail  = errors.New("dns: server failure")
	ErrDNSTimeout   = errors.New("dns: query timed out")
	ErrDNSRefused   = errors.New("dns: query refused")
	ErrHeloMismatch = errors.New("dns: peer address is not an exchanger for the announced domain")
)

// Resolver is the lookup surface used for HELO verification.
type Resolver interface {
	// LookupMX returns the mail exchangers of domain, in the order the
	// server returned them.
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
	// LookupIP returns the A and AAAA addresses of host.
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrDNSNotFound)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrDNSTimeout)
}

func IsServFail(err error) bool {
	return errors.Is(err, ErrDNSServFail)
}

// IsTemporary reports whether retrying the lookup later could succeed.
func IsTemporary(err error) bool {
	return IsTimeout(err) || IsServFail(err)
}
