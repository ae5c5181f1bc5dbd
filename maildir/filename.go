package maildir

import (
	"strconv"
	"strings"
	"time"
)

// hostEscaper applies the maildir convention for characters that would
// break the name or its info suffix.
var hostEscaper = strings.NewReplacer("/", `\057`, ":", `\072`)

// GenerateFilename builds a unique maildir name:
//
//	<epoch-seconds>.R<random>M<microseconds>P<pid>T<worker-id>Q<delivery-count>.<hostname>
func GenerateFilename(t time.Time, random uint32, pid, worker int, delivery uint64, hostname string) string {
	var b strings.Builder
	b.Grow(64 + len(hostname))

	b.WriteString(strconv.FormatInt(t.Unix(), 10))
	b.WriteString(".R")
	b.WriteString(strconv.FormatUint(uint64(random), 10))
	b.WriteByte('M')
	b.WriteString(strconv.Itoa(t.Nanosecond() / int(time.Microsecond)))
	b.WriteByte('P')
	b.WriteString(strconv.Itoa(pid))
	b.WriteByte('T')
	b.WriteString(strconv.Itoa(worker))
	b.WriteByte('Q')
	b.WriteString(strconv.FormatUint(delivery, 10))
	b.WriteByte('.')
	b.WriteString(hostEscaper.Replace(hostname))

	return b.String()
}

// DeterministicFilename returns "<delivery>.mail", or
// "<worker>.<delivery>.mail" when several workers share the tree.
func DeterministicFilename(worker int, delivery uint64, shared bool) string {
	name := strconv.FormatUint(delivery, 10) + ".mail"
	if shared {
		return strconv.Itoa(worker) + "." + name
	}
	return name
}
