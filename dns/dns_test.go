package dns

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		isNotFound bool
		isTimeout  bool
		isServFail bool
		isTemp     bool
	}{
		{
			name:       "not found error",
			err:        ErrDNSNotFound,
			isNotFound: true,
		},
		{
			name:      "timeout error",
			err:       ErrDNSTimeout,
			isTimeout: true,
			isTemp:    true,
		},
		{
			name:       "server failure",
			err:        ErrDNSServFail,
			isServFail: true,
			isTemp:     true,
		},
		{
			name:       "wrapped not found",
			err:        fmt.Errorf("dns: verify x: %w", ErrDNSNotFound),
			isNotFound: true,
		},
		{
			name: "refused is final",
			err:  ErrDNSRefused,
		},
		{
			name: "nil error",
			err:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.isNotFound {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.isNotFound)
			}
			if got := IsTimeout(tt.err); got != tt.isTimeout {
				t.Errorf("IsTimeout() = %v, want %v", got, tt.isTimeout)
			}
			if got := IsServFail(tt.err); got != tt.isServFail {
				t.Errorf("IsServFail() = %v, want %v", got, tt.isServFail)
			}
			if got := IsTemporary(tt.err); got != tt.isTemp {
				t.Errorf("IsTemporary() = %v, want %v", got, tt.isTemp)
			}
		})
	}
}

func TestWithDefaultPort(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"8.8.8.8", "8.8.8.8:53"},
		{"8.8.8.8:5353", "8.8.8.8:5353"},
		{"2001:db8::1", "[2001:db8::1]:53"},
		{"[2001:db8::1]", "[2001:db8::1]:53"},
		{"[2001:db8::1]:5353", "[2001:db8::1]:5353"},
		{"ns.example.com", "ns.example.com:53"},
	}

	for _, tt := range tests {
		if got := withDefaultPort(tt.in); got != tt.want {
			t.Errorf("withDefaultPort(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewResolverDefaults(t *testing.T) {
	r, err := NewResolver(ResolverConfig{Nameservers: []string{"192.0.2.53"}})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	cfg := r.Config()
	if cfg.Timeout.Seconds() != 5 {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if cfg.Retries != 2 {
		t.Errorf("Retries = %d, want 2", cfg.Retries)
	}
	if len(cfg.Nameservers) != 1 || cfg.Nameservers[0] != "192.0.2.53:53" {
		t.Errorf("Nameservers = %v, want [192.0.2.53:53]", cfg.Nameservers)
	}
}

func TestSystemNameservers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resolv.conf")
	conf := "nameserver 192.0.2.1\nnameserver 2001:db8::53\n"
	if err := os.WriteFile(path, []byte(conf), 0o644); err != nil {
		t.Fatal(err)
	}

	servers, err := systemNameservers(path)
	if err != nil {
		t.Fatalf("systemNameservers() error = %v", err)
	}
	want := []string{"192.0.2.1:53", "[2001:db8::53]:53"}
	if len(servers) != len(want) {
		t.Fatalf("servers = %v, want %v", servers, want)
	}
	for i := range want {
		if servers[i] != want[i] {
			t.Errorf("servers[%d] = %q, want %q", i, servers[i], want[i])
		}
	}

	if _, err := systemNameservers(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing resolv.conf")
	}
}

func TestMockResolver(t *testing.T) {
	r := MockResolver{
		A:    map[string][]string{"mx.example.com.": {"192.0.2.10"}},
		AAAA: map[string][]string{"mx.example.com.": {"2001:db8::10"}},
		MX:   map[string][]*net.MX{"example.com.": {{Host: "mx.example.com.", Pref: 10}}},
		Fail: []string{"mx broken.example."},
	}
	ctx := context.Background()

	mxs, err := r.LookupMX(ctx, "example.com")
	if err != nil || len(mxs) != 1 || mxs[0].Host != "mx.example.com." {
		t.Errorf("LookupMX() = %v, %v", mxs, err)
	}

	ips, err := r.LookupIP(ctx, "mx.example.com")
	if err != nil || len(ips) != 2 {
		t.Errorf("LookupIP() = %v, %v", ips, err)
	}

	if _, err := r.LookupMX(ctx, "missing.example"); !IsNotFound(err) {
		t.Errorf("LookupMX(missing) error = %v, want not found", err)
	}
	if _, err := r.LookupMX(ctx, "broken.example"); !IsServFail(err) {
		t.Errorf("LookupMX(broken) error = %v, want servfail", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := r.LookupIP(cancelled, "mx.example.com"); err == nil {
		t.Error("expected error for cancelled context")
	}
}
