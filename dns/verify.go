package dns

import (
	"cmp"
	"context"
	"fmt"
	"net"
	"slices"
)

// VerifyHelo checks that peer is one of the mail exchangers of domain.
//
// The MX hosts are tried by ascending preference. A domain without MX
// records is treated as its own exchanger (RFC 5321 section 5.1). A null MX
// (".") never matches. The result is nil on a match, ErrHeloMismatch when
// every exchanger resolved but none carries peer, or the lookup error when
// nothing could be resolved.
func VerifyHelo(ctx context.Context, r Resolver, domain string, peer net.IP) error {
	if peer == nil {
		return fmt.Errorf("dns: verify %s: no peer address", domain)
	}

	hosts, err := exchangers(ctx, r, domain)
	if err != nil {
		return fmt.Errorf("dns: verify %s: %w", domain, err)
	}

	var lastErr error
	resolved := false
	for _, host := range hosts {
		ips, err := r.LookupIP(ctx, host)
		if err != nil {
			if !IsNotFound(err) {
				lastErr = err
			}
			continue
		}
		resolved = true
		for _, ip := range ips {
			if ip.Equal(peer) {
				return nil
			}
		}
	}

	if !resolved && lastErr != nil {
		return fmt.Errorf("dns: verify %s: %w", domain, lastErr)
	}
	return ErrHeloMismatch
}

// VerifyLiteral checks an EHLO address literal against peer.
func VerifyLiteral(literal, peer net.IP) error {
	if literal == nil || !literal.Equal(peer) {
		return ErrHeloMismatch
	}
	return nil
}

func exchangers(ctx context.Context, r Resolver, domain string) ([]string, error) {
	mxs, err := r.LookupMX(ctx, domain)
	if IsNotFound(err) {
		return []string{domain}, nil
	}
	if err != nil {
		return nil, err
	}

	sorted := slices.Clone(mxs)
	slices.SortStableFunc(sorted, func(a, b *net.MX) int {
		return cmp.Compare(a.Pref, b.Pref)
	})

	hosts := make([]string, 0, len(sorted))
	for _, mx := range sorted {
		if mx.Host == "." || mx.Host == "" {
			continue
		}
		hosts = append(hosts, mx.Host)
	}
	return hosts, nil
}
