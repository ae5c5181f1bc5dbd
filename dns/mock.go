package dns

import (
	"context"
	"net"
	"slices"
)

// MockResolver answers from in-memory tables. Names are FQDNs with a
// trailing dot; lookups without the dot are normalized.
type MockResolver struct {
	A    map[string][]string
	AAAA map[string][]string
	MX   map[string][]*net.MX

	// Fail lists queries answered with ErrDNSServFail, written as
	// "<type> <fqdn>", e.g. "mx example.com.".
	Fail []string
}

var _ Resolver = MockResolver{}

func fqdn(name string) string {
	if name == "" || name[len(name)-1] != '.' {
		return name + "."
	}
	return name
}

func (r MockResolver) fails(qtype, name string) bool {
	return slices.Contains(r.Fail, qtype+" "+name)
}

func (r MockResolver) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := fqdn(domain)
	if r.fails("mx", name) {
		return nil, ErrDNSServFail
	}
	records := r.MX[name]
	if len(records) == 0 {
		return nil, ErrDNSNotFound
	}
	return records, nil
}

func (r MockResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := fqdn(host)
	if r.fails("a", name) || r.fails("aaaa", name) {
		return nil, ErrDNSServFail
	}

	var ips []net.IP
	for _, s := range r.A[name] {
		ips = append(ips, net.ParseIP(s))
	}
	for _, s := range r.AAAA[name] {
		ips = append(ips, net.ParseIP(s))
	}
	if len(ips) == 0 {
		return nil, ErrDNSNotFound
	}
	return ips, nil
}
