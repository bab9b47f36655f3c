// Package metrics defines the counter capability the query processor and
// transport layer consume. Rendering the counters over HTTP is the
// caller's concern; this package only provides the interface and two
// concrete sinks: a Prometheus-backed one and a no-op for tests.
package metrics

import "strconv"

// Sink is the capability set the core emits counts through. It never
// exposes an HTTP surface itself.
type Sink interface {
	IncTotal()
	IncUDP()
	IncTCP()
	IncByRcode(rcode int)
	IncRateLimited()
}

type noopSink struct{}

// NewNoop returns a Sink that discards every increment, for tests and for
// callers that have not wired a real exporter.
func NewNoop() Sink { return noopSink{} }

func (noopSink) IncTotal()       {}
func (noopSink) IncUDP()         {}
func (noopSink) IncTCP()         {}
func (noopSink) IncByRcode(int)  {}
func (noopSink) IncRateLimited() {}

// rcodeLabel renders an RCODE as the label value used by the by-rcode
// counter vector, preferring the symbolic DNS name when one is known.
func rcodeLabel(rcode int) string {
	if name, ok := rcodeNames[rcode]; ok {
		return name
	}
	return strconv.Itoa(rcode)
}

var rcodeNames = map[int]string{
	0:  "NOERROR",
	1:  "FORMERR",
	2:  "SERVFAIL",
	3:  "NXDOMAIN",
	4:  "NOTIMP",
	5:  "REFUSED",
	16: "BADVERS",
}
