package dns

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

const defaultResolvConf = "/etc/resolv.conf"

// ResolverConfig configures a DNSResolver.
type ResolverConfig struct {
	// Nameservers are queried in order. Entries without a port get ":53".
	// If empty, the servers from /etc/resolv.conf are used.
	Nameservers []string

	// Timeout bounds a single exchange. Default is 5 seconds.
	Timeout time.Duration

	// Retries is the number of extra rounds over all nameservers.
	// Default is 2.
	Retries int
}

// DNSResolver queries nameservers directly using github.com/miekg/dns.
type DNSResolver struct {
	config ResolverConfig
	client *mdns.Client
}

var _ Resolver = (*DNSResolver)(nil)

// NewResolver creates a resolver. It fails only when no nameserver is
// configured and none can be read from the system configuration.
func NewResolver(config ResolverConfig) (*DNSResolver, error) {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Retries == 0 {
		config.Retries = 2
	}
	if len(config.Nameservers) == 0 {
		servers, err := systemNameservers(defaultResolvConf)
		if err != nil {
			return nil, err
		}
		config.Nameservers = servers
	}

	servers := make([]string, 0, len(config.Nameservers))
	for _, s := range config.Nameservers {
		servers = append(servers, withDefaultPort(s))
	}
	config.Nameservers = servers

	return &DNSResolver{
		config: config,
		client: &mdns.Client{Timeout: config.Timeout},
	}, nil
}

func systemNameservers(path string) ([]string, error) {
	cc, err := mdns.ClientConfigFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("dns: reading %s: %w", path, err)
	}
	if len(cc.Servers) == 0 {
		return nil, fmt.Errorf("dns: no nameservers in %s", path)
	}
	servers := make([]string, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		servers = append(servers, net.JoinHostPort(s, cc.Port))
	}
	return servers, nil
}

// withDefaultPort appends port 53 to a bare host or IP (v4 or v6).
func withDefaultPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(strings.Trim(server, "[]"), "53")
}

// exchange sends one question, retrying over all nameservers. NXDOMAIN is
// final; SERVFAIL and REFUSED move on to the next server.
func (r *DNSResolver) exchange(ctx context.Context, name string, qtype uint16) (*mdns.Msg, error) {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), qtype)
	m.RecursionDesired = true

	var lastErr error
	for range r.config.Retries + 1 {
		for _, server := range r.config.Nameservers {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					lastErr = ErrDNSTimeout
				} else {
					lastErr = fmt.Errorf("dns: exchange with %s: %w", server, err)
				}
				continue
			}

			switch resp.Rcode {
			case mdns.RcodeSuccess:
				return resp, nil
			case mdns.RcodeNameError:
				return nil, ErrDNSNotFound
			case mdns.RcodeServerFailure:
				lastErr = ErrDNSServFail
			case mdns.RcodeRefused:
				lastErr = ErrDNSRefused
			default:
				lastErr = fmt.Errorf("dns: unexpected rcode %s", mdns.RcodeToString[resp.Rcode])
			}
		}
	}
	return nil, lastErr
}

// LookupMX returns the MX records of domain.
func (r *DNSResolver) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	resp, err := r.exchange(ctx, domain, mdns.TypeMX)
	if err != nil {
		return nil, err
	}

	var records []*net.MX
	for _, rr := range resp.Answer {
		if mx, ok := rr.(*mdns.MX); ok {
			records = append(records, &net.MX{Host: mx.Mx, Pref: mx.Preference})
		}
	}
	if len(records) == 0 {
		return nil, ErrDNSNotFound
	}
	return records, nil
}

// LookupIP queries A then AAAA for host. A failure of one family is only
// reported when the other family yields nothing.
func (r *DNSResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	var ips []net.IP
	var lastErr error

	for _, qtype := range []uint16{mdns.TypeA, mdns.TypeAAAA} {
		resp, err := r.exchange(ctx, host, qtype)
		if err != nil {
			if !IsNotFound(err) {
				lastErr = err
			}
			continue
		}
		for _, rr := range resp.Answer {
			switch v := rr.(type) {
			case *mdns.A:
				ips = append(ips, v.A)
			case *mdns.AAAA:
				ips = append(ips, v.AAAA)
			}
		}
	}

	if len(ips) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, ErrDNSNotFound
	}
	return ips, nil
}

// Config returns the effective configuration.
func (r *DNSResolver) Config() ResolverConfig {
	return r.config
}
