package maildrop

import (
	"regexp"
	"sync"
)

// CommandKind identifies a recognized client command.
type CommandKind int

const (
	CmdUnknown CommandKind = iota
	CmdHelo
	CmdEhlo
	CmdVrfy
	CmdRset
	CmdQuit
	CmdMailFrom
	CmdRcptTo
	CmdData
	CmdNoop
	// CmdNotImplemented covers verbs that are known but not offered.
	CmdNotImplemented
)

func (k CommandKind) String() string {
	switch k {
	case CmdHelo:
		return "HELO"
	case CmdEhlo:
		return "EHLO"
	case CmdVrfy:
		return "VRFY"
	case CmdRset:
		return "RSET"
	case CmdQuit:
		return "QUIT"
	case CmdMailFrom:
		return "MAIL FROM"
	case CmdRcptTo:
		return "RCPT TO"
	case CmdData:
		return "DATA"
	case CmdNoop:
		return "NOOP"
	case CmdNotImplemented:
		return "NOT IMPLEMENTED"
	default:
		return "UNKNOWN"
	}
}

// Capture names produced by the command grammar.
const (
	CaptureDomain           = "domain"
	CaptureIPv4             = "ipv4"
	CaptureIPv6             = "ipv6"
	CaptureIPv6Literal      = "ipv6_literal"
	CaptureLocalPart        = "localpart"
	CaptureSender           = "sender"
	CaptureEmptyReversePath = "emptyrpath"
	CaptureReversePath      = "rpath"
	CaptureRecipient        = "recepient"
	CaptureThisPostmaster   = "thispostmaster"
	CaptureOtherPostmaster  = "otherpostmaster"
	CapturePostmasterDomain = "postmasterdomain"
	CaptureForwardPath      = "fpath"
)

// RFC 5321 section 4.1.2 grammar, restricted to the forms this server
// accepts: dot-string local parts, full-form IPv6 literals and no
// source routes or ESMTP parameters.
const (
	subdomain       = `\w(?:[\w-]*\w)?`
	domainPattern   = subdomain + `(?:\.` + subdomain + `)*`
	ipv4Literal     = `\d{1,3}(?:\.\d{1,3}){3}`
	v6hex           = `[0-9a-fA-F]{1,4}`
	ipv6Full        = v6hex + `(?::` + v6hex + `){7}`
	ipv6Literal     = `IPv6:(?P<ipv6>` + ipv6Full + `)`
	domainOrLiteral = `(?:(?P<domain>` + domainPattern + `)|\[(?P<ipv4>` + ipv4Literal + `)\]|\[(?P<ipv6_literal>` + ipv6Literal + `)\])`
	atext           = "[a-zA-Z0-9!#$%&'*+\\-/=?^_`{|}~]"
	dotString       = atext + `+(?:\.` + atext + `+)*`
	mailbox         = `(?P<localpart>` + dotString + `)@` + domainOrLiteral
	pathPattern     = `<` + mailbox + `>`
	reversePath     = `(?:(?P<emptyrpath><>)|(?P<rpath>` + pathPattern + `))`
	postmaster      = `(?i:Postmaster)`
	recipients      = `(?:(?P<thispostmaster><` + postmaster + `>)|(?P<otherpostmaster><` + postmaster + `@(?P<postmasterdomain>` + domainPattern + `)>)|(?P<fpath>` + pathPattern + `))`
)

type commandPattern struct {
	kind CommandKind
	re   *regexp.Regexp
}

// Patterns are tried in order; the first full-line match wins.
var commandPatterns = []commandPattern{
	{CmdHelo, regexp.MustCompile(`^(?i:HELO)\s(?P<domain>` + domainPattern + `)$`)},
	{CmdEhlo, regexp.MustCompile(`^(?i:EHLO)\s` + domainOrLiteral + `$`)},
	{CmdVrfy, regexp.MustCompile(`^(?i:VRFY)\s.*$`)},
	{CmdRset, regexp.MustCompile(`^(?i:RSET)$`)},
	{CmdQuit, regexp.MustCompile(`^(?i:QUIT)$`)},
	{CmdMailFrom, regexp.MustCompile(`^(?i:MAIL FROM):(?P<sender>` + reversePath + `)$`)},
	{CmdRcptTo, regexp.MustCompile(`^(?i:RCPT TO):(?P<recepient>` + recipients + `)$`)},
	{CmdData, regexp.MustCompile(`^(?i:DATA)$`)},
	{CmdNoop, regexp.MustCompile(`^(?i:NOOP)(?:\s.*)?$`)},
	{CmdNotImplemented, regexp.MustCompile(`^(?i:EXPN|HELP|TURN|ETRN|STARTTLS|AUTH|BDAT)(?:\s.*)?$`)},
}

// Match is the result of parsing one command line. It keeps the line and
// the submatch offsets so captures are sliced out lazily. Release returns
// it to the pool; it must not be used afterwards.
type Match struct {
	Kind    CommandKind
	line    string
	re      *regexp.Regexp
	indices []int
}

var matchPool = sync.Pool{
	New: func() any { return new(Match) },
}

// ParseCommand matches line against the command grammar. A line that fits
// no pattern yields a Match of kind CmdUnknown without captures.
func ParseCommand(line []byte) *Match {
	m := matchPool.Get().(*Match)
	m.line = string(line)

	for _, p := range commandPatterns {
		if idx := p.re.FindStringSubmatchIndex(m.line); idx != nil {
			m.Kind = p.kind
			m.re = p.re
			m.indices = idx
			return m
		}
	}

	m.Kind = CmdUnknown
	return m
}

// Get returns the named capture. The second result is false when the
// capture does not exist in the matched pattern or did not participate in
// the match.
func (m *Match) Get(name string) (string, bool) {
	if m == nil || m.re == nil {
		return "", false
	}
	i := m.re.SubexpIndex(name)
	if i < 0 || 2*i+1 >= len(m.indices) {
		return "", false
	}
	start, end := m.indices[2*i], m.indices[2*i+1]
	if start < 0 {
		return "", false
	}
	return m.line[start:end], true
}

// Has reports whether the named capture is present and non-empty.
func (m *Match) Has(name string) bool {
	s, ok := m.Get(name)
	return ok && s != ""
}

// Line returns the parsed line.
func (m *Match) Line() string {
	if m == nil {
		return ""
	}
	return m.line
}

// Release clears m and returns it to the pool. It is safe on nil.
func (m *Match) Release() {
	if m == nil {
		return
	}
	*m = Match{}
	matchPool.Put(m)
}
