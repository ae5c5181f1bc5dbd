package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// StdResolver resolves through the operating system's configured resolver
// using the net package. It is the default when no nameserver is given.
type StdResolver struct {
	resolver *net.Resolver
}

var _ Resolver = (*StdResolver)(nil)

func NewStdResolver() *StdResolver {
	return &StdResolver{resolver: net.DefaultResolver}
}

func (r *StdResolver) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	records, err := r.resolver.LookupMX(ctx, strings.TrimSuffix(domain, "."))
	if err != nil {
		return nil, convertError(err)
	}
	if len(records) == 0 {
		return nil, ErrDNSNotFound
	}
	return records, nil
}

func (r *StdResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	ips, err := r.resolver.LookupIP(ctx, "ip", strings.TrimSuffix(host, "."))
	if err != nil {
		return nil, convertError(err)
	}
	if len(ips) == 0 {
		return nil, ErrDNSNotFound
	}
	return ips, nil
}

// convertError maps *net.DNSError onto the package sentinels.
func convertError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return ErrDNSNotFound
		case dnsErr.IsTimeout:
			return ErrDNSTimeout
		case dnsErr.IsTemporary:
			return ErrDNSServFail
		}
	}
	return fmt.Errorf("dns: lookup failed: %w", err)
}
