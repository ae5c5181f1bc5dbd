package utils

import (
	"net"
	"testing"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sys/unix"
)

func TestNewSessionID(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()

	if a == b {
		t.Errorf("expected distinct IDs, got %q twice", a)
	}
	if _, err := ulid.ParseStrict(a); err != nil {
		t.Errorf("NewSessionID() = %q is not a ULID: %v", a, err)
	}
}

func TestIPFromSockaddr(t *testing.T) {
	tests := []struct {
		name string
		sa   unix.Sockaddr
		want net.IP
	}{
		{
			name: "ipv4",
			sa:   &unix.SockaddrInet4{Port: 25, Addr: [4]byte{192, 0, 2, 1}},
			want: net.ParseIP("192.0.2.1"),
		},
		{
			name: "ipv6",
			sa:   &unix.SockaddrInet6{Port: 25, Addr: [16]byte{0x20, 0x01, 0x0d, 0xb8, 15: 1}},
			want: net.ParseIP("2001:db8::1"),
		},
		{
			name: "unix socket",
			sa:   &unix.SockaddrUnix{Name: "/tmp/sock"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IPFromSockaddr(tt.sa)
			if tt.want == nil {
				if got != nil {
					t.Errorf("IPFromSockaddr() = %v, want nil", got)
				}
				return
			}
			if !got.Equal(tt.want) {
				t.Errorf("IPFromSockaddr() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSockaddrString(t *testing.T) {
	tests := []struct {
		sa   unix.Sockaddr
		want string
	}{
		{&unix.SockaddrInet4{Port: 2525, Addr: [4]byte{127, 0, 0, 1}}, "127.0.0.1:2525"},
		{&unix.SockaddrInet6{Port: 25, Addr: [16]byte{15: 1}}, "[::1]:25"},
		{&unix.SockaddrInet6{Port: 25, Addr: [16]byte{10: 0xff, 11: 0xff, 12: 10, 15: 1}}, "10.0.0.1:25"},
		{nil, "unknown"},
	}

	for _, tt := range tests {
		if got := SockaddrString(tt.sa); got != tt.want {
			t.Errorf("SockaddrString() = %q, want %q", got, tt.want)
		}
	}
}

func TestResolveSockaddr(t *testing.T) {
	sa, err := ResolveSockaddr("127.0.0.1:2525")
	if err != nil {
		t.Fatalf("ResolveSockaddr() error = %v", err)
	}
	v4, ok := sa.(*unix.SockaddrInet4)
	if !ok || v4.Port != 2525 || v4.Addr != [4]byte{127, 0, 0, 1} {
		t.Errorf("ResolveSockaddr() = %#v", sa)
	}

	sa, err = ResolveSockaddr("[::]:25")
	if err != nil {
		t.Fatalf("ResolveSockaddr() error = %v", err)
	}
	if v6, ok := sa.(*unix.SockaddrInet6); !ok || v6.Port != 25 {
		t.Errorf("ResolveSockaddr() = %#v", sa)
	}

	sa, err = ResolveSockaddr(":0")
	if err != nil {
		t.Fatalf("ResolveSockaddr() error = %v", err)
	}
	if _, ok := sa.(*unix.SockaddrInet4); !ok {
		t.Errorf("ResolveSockaddr(:0) = %#v, want inet4 wildcard", sa)
	}

	for _, bad := range []string{"localhost:25", "127.0.0.1", "127.0.0.1:99999"} {
		if _, err := ResolveSockaddr(bad); err == nil {
			t.Errorf("ResolveSockaddr(%q) expected error", bad)
		}
	}
}

func TestHostname(t *testing.T) {
	if Hostname() == "" {
		t.Error("Hostname() returned empty string")
	}
}
