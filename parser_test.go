package maildrop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommandKinds(t *testing.T) {
	tests := []struct {
		line string
		want CommandKind
	}{
		{"HELO foo.com", CmdHelo},
		{"helo foo.com", CmdHelo},
		{"HeLo x", CmdHelo},
		{"HELO", CmdUnknown},
		{"HELO -bad-.com", CmdUnknown},
		{"HELO [192.0.2.1]", CmdUnknown},
		{"EHLO client.example", CmdEhlo},
		{"EHLO [192.0.2.1]", CmdEhlo},
		{"EHLO [IPv6:2001:db8:0:0:0:0:0:1]", CmdEhlo},
		{"EHLO [IPv6:2001:db8::1]", CmdUnknown},
		{"VRFY someone", CmdVrfy},
		{"VRFY", CmdUnknown},
		{"RSET", CmdRset},
		{"RSET foo", CmdUnknown},
		{"QUIT", CmdQuit},
		{"quit", CmdQuit},
		{"QUIT now", CmdUnknown},
		{"MAIL FROM:<Smith@bar.com>", CmdMailFrom},
		{"mail from:<a@b.com>", CmdMailFrom},
		{"MAIL FROM:<>", CmdMailFrom},
		{"MAIL FROM:<a@b.com> SIZE=100", CmdUnknown},
		{"MAIL FROM: <a@b.com>", CmdUnknown},
		{"MAIL FROM:a@b.com", CmdUnknown},
		{"RCPT TO:<c@d.com>", CmdRcptTo},
		{"RCPT TO:<Postmaster>", CmdRcptTo},
		{"RCPT TO:<postmaster@d.com>", CmdRcptTo},
		{"RCPT TO:<user@[10.0.0.1]>", CmdRcptTo},
		{"RCPT TO:<>", CmdUnknown},
		{"DATA", CmdData},
		{"DATA now", CmdUnknown},
		{"NOOP", CmdNoop},
		{"NOOP hello", CmdNoop},
		{"EXPN list", CmdNotImplemented},
		{"HELP", CmdNotImplemented},
		{"STARTTLS", CmdNotImplemented},
		{"AUTH PLAIN abc", CmdNotImplemented},
		{"", CmdUnknown},
		{"GARBAGE", CmdUnknown},
		{".", CmdUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			m := ParseCommand([]byte(tt.line))
			defer m.Release()
			assert.Equal(t, tt.want, m.Kind, "kind of %q", tt.line)
		})
	}
}

func TestParseHeloCaptures(t *testing.T) {
	m := ParseCommand([]byte("HELO foo.com"))
	defer m.Release()

	require.Equal(t, CmdHelo, m.Kind)
	domain, ok := m.Get(CaptureDomain)
	assert.True(t, ok)
	assert.Equal(t, "foo.com", domain)

	_, ok = m.Get(CaptureIPv4)
	assert.False(t, ok, "capture not in the HELO pattern")
}

func TestParseMailFromCaptures(t *testing.T) {
	m := ParseCommand([]byte("MAIL FROM:<Smith@bar.com>"))
	defer m.Release()

	require.Equal(t, CmdMailFrom, m.Kind)
	localpart, ok := m.Get(CaptureLocalPart)
	require.True(t, ok)
	assert.Equal(t, "Smith", localpart)

	domain, ok := m.Get(CaptureDomain)
	require.True(t, ok)
	assert.Equal(t, "bar.com", domain)

	sender, _ := m.Get(CaptureSender)
	assert.Equal(t, "<Smith@bar.com>", sender)
	assert.False(t, m.Has(CaptureEmptyReversePath))
}

func TestParseNullReversePath(t *testing.T) {
	m := ParseCommand([]byte("MAIL FROM:<>"))
	defer m.Release()

	assert.True(t, m.Has(CaptureEmptyReversePath))
	assert.True(t, m.Has(CaptureSender))
	_, ok := m.Get(CaptureLocalPart)
	assert.False(t, ok, "non-participating group is absent")
}

func TestParseEhloLiterals(t *testing.T) {
	m := ParseCommand([]byte("EHLO [192.0.2.1]"))
	ipv4, ok := m.Get(CaptureIPv4)
	assert.True(t, ok)
	assert.Equal(t, "192.0.2.1", ipv4)
	assert.False(t, m.Has(CaptureDomain))
	m.Release()

	m = ParseCommand([]byte("EHLO [IPv6:2001:db8:0:0:0:0:0:1]"))
	ipv6, ok := m.Get(CaptureIPv6)
	assert.True(t, ok)
	assert.Equal(t, "2001:db8:0:0:0:0:0:1", ipv6)
	literal, _ := m.Get(CaptureIPv6Literal)
	assert.Equal(t, "IPv6:2001:db8:0:0:0:0:0:1", literal)
	m.Release()
}

func TestParseRecipientForms(t *testing.T) {
	tests := []struct {
		line    string
		capture string
		value   string
	}{
		{"RCPT TO:<Postmaster>", CaptureThisPostmaster, "<Postmaster>"},
		{"RCPT TO:<POSTMASTER>", CaptureThisPostmaster, "<POSTMASTER>"},
		{"RCPT TO:<postmaster@d.com>", CapturePostmasterDomain, "d.com"},
		{"RCPT TO:<c@d.com>", CaptureForwardPath, "<c@d.com>"},
		{"RCPT TO:<c@d.com>", CaptureDomain, "d.com"},
		{"RCPT TO:<first.last+tag@sub.d.com>", CaptureLocalPart, "first.last+tag"},
		{"RCPT TO:<user@[10.0.0.1]>", CaptureIPv4, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.line+"/"+tt.capture, func(t *testing.T) {
			m := ParseCommand([]byte(tt.line))
			defer m.Release()

			require.Equal(t, CmdRcptTo, m.Kind)
			got, ok := m.Get(tt.capture)
			assert.True(t, ok)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestMatchUnknownHasNoCaptures(t *testing.T) {
	m := ParseCommand([]byte("RSET foo"))
	defer m.Release()

	assert.Equal(t, CmdUnknown, m.Kind)
	_, ok := m.Get(CaptureDomain)
	assert.False(t, ok)
	assert.Equal(t, "RSET foo", m.Line())
}

func TestMatchNilAndRelease(t *testing.T) {
	var m *Match
	_, ok := m.Get(CaptureDomain)
	assert.False(t, ok)
	assert.False(t, m.Has(CaptureDomain))
	assert.Empty(t, m.Line())
	m.Release()
}

func TestMatchReuseAfterRelease(t *testing.T) {
	for range 3 {
		m := ParseCommand([]byte("HELO foo.com"))
		domain, _ := m.Get(CaptureDomain)
		assert.Equal(t, "foo.com", domain)
		m.Release()

		m = ParseCommand([]byte("DATA"))
		assert.Equal(t, CmdData, m.Kind)
		assert.False(t, m.Has(CaptureDomain))
		m.Release()
	}
}

func TestCommandKindString(t *testing.T) {
	assert.Equal(t, "MAIL FROM", CmdMailFrom.String())
	assert.Equal(t, "UNKNOWN", CommandKind(99).String())
}
