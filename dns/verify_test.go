package dns

import (
	"context"
	"errors"
	"net"
	"testing"
)

func TestVerifyHelo(t *testing.T) {
	resolver := MockResolver{
		MX: map[string][]*net.MX{
			"example.com.": {
				{Host: "backup.example.com.", Pref: 20},
				{Host: "mx.example.com.", Pref: 10},
			},
			"null.example.": {{Host: ".", Pref: 0}},
			"flaky.example.": {{Host: "mx.flaky.example.", Pref: 10}},
		},
		A: map[string][]string{
			"mx.example.com.":     {"192.0.2.10"},
			"backup.example.com.": {"192.0.2.20"},
			"nomx.example.":       {"198.51.100.7"},
		},
		AAAA: map[string][]string{
			"mx.example.com.": {"2001:db8::10"},
		},
		Fail: []string{"mx broken.example.", "a mx.flaky.example."},
	}

	tests := []struct {
		name    string
		domain  string
		peer    string
		wantErr error
		wantAny bool
	}{
		{name: "primary exchanger", domain: "example.com", peer: "192.0.2.10"},
		{name: "backup exchanger", domain: "example.com", peer: "192.0.2.20"},
		{name: "ipv6 exchanger", domain: "example.com", peer: "2001:db8::10"},
		{name: "v4-mapped peer", domain: "example.com", peer: "::ffff:192.0.2.10"},
		{name: "implicit mx", domain: "nomx.example", peer: "198.51.100.7"},
		{name: "mismatch", domain: "example.com", peer: "203.0.113.1", wantErr: ErrHeloMismatch},
		{name: "null mx", domain: "null.example", peer: "192.0.2.10", wantErr: ErrHeloMismatch},
		{name: "unknown domain", domain: "unknown.example", peer: "192.0.2.10", wantErr: ErrHeloMismatch},
		{name: "mx lookup failure", domain: "broken.example", peer: "192.0.2.10", wantErr: ErrDNSServFail},
		{name: "exchanger lookup failure", domain: "flaky.example", peer: "192.0.2.10", wantErr: ErrDNSServFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyHelo(context.Background(), resolver, tt.domain, net.ParseIP(tt.peer))
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("VerifyHelo() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyHelo() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyHeloNilPeer(t *testing.T) {
	if err := VerifyHelo(context.Background(), MockResolver{}, "example.com", nil); err == nil {
		t.Error("expected error for nil peer")
	}
}

func TestVerifyLiteral(t *testing.T) {
	peer := net.ParseIP("192.0.2.1")
	if err := VerifyLiteral(net.ParseIP("192.0.2.1"), peer); err != nil {
		t.Errorf("VerifyLiteral() error = %v", err)
	}
	if err := VerifyLiteral(net.ParseIP("192.0.2.2"), peer); !errors.Is(err, ErrHeloMismatch) {
		t.Errorf("VerifyLiteral() error = %v, want mismatch", err)
	}
	if err := VerifyLiteral(nil, peer); !errors.Is(err, ErrHeloMismatch) {
		t.Errorf("VerifyLiteral(nil) error = %v, want mismatch", err)
	}
}
