// Package query turns a decoded request into a response message. It owns
// name resolution against a zone-store snapshot, CNAME chasing, wildcard
// synthesis, EDNS0 negotiation, and AXFR framing; it never touches a
// socket, so the transport layer can drive it from any listener.
package query

import (
	"fmt"

	"github.com/dnsscience/dnsscienced/internal/metrics"
	"github.com/dnsscience/dnsscienced/internal/pool"
	"github.com/dnsscience/dnsscienced/internal/store"
	"github.com/dnsscience/dnsscienced/internal/zone"
	"github.com/miekg/dns"
)

// maxCNAMEHops bounds in-zone CNAME chasing.
const maxCNAMEHops = 8

// defaultAdvertisedUDPSize is the payload size this server advertises in
// its own EDNS0 OPT records.
const defaultAdvertisedUDPSize = 4096

// Transport identifies which listener is driving a Process call, since the
// effective payload cap and truncation policy differ between them.
type Transport int

const (
	// UDPTransport queries are subject to truncation at the negotiated
	// payload size.
	UDPTransport Transport = iota
	// TCPTransport queries are never truncated.
	TCPTransport
)

// Hint tells the transport what to do with a Result beyond writing it.
type Hint int

const (
	// Inline means write Result.Msg as a single framed response.
	Inline Hint = iota
	// AXFRHint means the transport must call StreamAXFR to emit a
	// sequence of frames instead of writing Result.Msg directly.
	AXFRHint
)

// Result is what Process hands back to the transport.
type Result struct {
	Msg  *dns.Msg
	Hint Hint
	// Zone is set when Hint == AXFRHint.
	Zone *zone.Zone
}

// Processor resolves queries against a zone-store snapshot.
type Processor struct {
	zones   *store.Manager
	metrics metrics.Sink
}

// New builds a Processor reading from zones and reporting through sink.
func New(zones *store.Manager, sink metrics.Sink) *Processor {
	if sink == nil {
		sink = metrics.NewNoop()
	}
	return &Processor{zones: zones, metrics: sink}
}

// Process resolves req and returns the response to send, or a streaming
// hint for AXFR. The returned Result.Msg is drawn from the shared message
// pool (internal/pool); the caller must call pool.PutMessage on it once
// written.
func (p *Processor) Process(req *dns.Msg, transport Transport) *Result {
	p.metrics.IncTotal()

	m := pool.GetMessage()
	m.SetReply(req)
	m.Compress = true
	m.RecursionAvailable = false

	if len(req.Question) != 1 {
		m.Rcode = dns.RcodeFormatError
		p.metrics.IncByRcode(m.Rcode)
		return &Result{Msg: m, Hint: Inline}
	}

	reqOpt, payloadCap, badVers := p.negotiateEDNS0(req, transport)
	if reqOpt != nil {
		m.SetEdns0(defaultAdvertisedUDPSize, false)
	}
	if badVers {
		m.Rcode = dns.RcodeBadVers
		p.metrics.IncByRcode(m.Rcode)
		return &Result{Msg: m, Hint: Inline}
	}

	if req.Opcode != dns.OpcodeQuery {
		m.Rcode = dns.RcodeNotImplemented
		p.metrics.IncByRcode(m.Rcode)
		return &Result{Msg: m, Hint: Inline}
	}

	q := req.Question[0]
	if q.Qclass != dns.ClassINET {
		m.Rcode = dns.RcodeNotImplemented
		p.metrics.IncByRcode(m.Rcode)
		return &Result{Msg: m, Hint: Inline}
	}

	snap := p.zones.Snapshot()
	_, z, ok := snap.AuthoritativeFor(q.Name)
	if !ok {
		m.Rcode = dns.RcodeRefused
		p.metrics.IncByRcode(m.Rcode)
		return &Result{Msg: m, Hint: Inline}
	}

	if q.Qtype == dns.TypeAXFR {
		if transport != TCPTransport {
			m.Rcode = dns.RcodeRefused
			p.metrics.IncByRcode(m.Rcode)
			return &Result{Msg: m, Hint: Inline}
		}
		pool.PutMessage(m)
		return &Result{Hint: AXFRHint, Zone: z}
	}

	do := reqOpt != nil && reqOpt.Do()
	p.resolve(m, z, q.Name, q.Qtype, do)
	m.Authoritative = true

	if transport == UDPTransport {
		truncate(m, payloadCap)
	}

	p.metrics.IncByRcode(m.Rcode)
	return &Result{Msg: m, Hint: Inline}
}

// negotiateEDNS0 inspects the request's OPT record, if any, returning it
// (nil if absent), the effective payload cap for this transport, and
// whether the request triggers BADVERS.
func (p *Processor) negotiateEDNS0(req *dns.Msg, transport Transport) (opt *dns.OPT, payloadCap int, badVers bool) {
	optCount := 0
	for _, rr := range req.Extra {
		if rr.Header().Rrtype == dns.TypeOPT {
			optCount++
			opt = rr.(*dns.OPT)
		}
	}

	transportCap := 512
	if transport == TCPTransport {
		transportCap = 65535
	}

	payloadCap = 512
	if opt != nil {
		if size := int(opt.UDPSize()); size > 0 {
			payloadCap = size
		}
	}
	if payloadCap > transportCap {
		payloadCap = transportCap
	}

	if optCount > 1 || (opt != nil && opt.Version() != 0) {
		return opt, payloadCap, true
	}
	return opt, payloadCap, false
}

// resolve fills in m's answer/authority/additional sections for (qname,
// qtype) within z, following the exact-match / CNAME-chase / wildcard /
// NXDOMAIN precedence.
func (p *Processor) resolve(m *dns.Msg, z *zone.Zone, qname string, qtype uint16, do bool) {
	if qtype == dns.TypeANY {
		m.Answer = z.GetAllRecordsAt(qname)
		if len(m.Answer) == 0 {
			p.negativeAuthority(m, z, qname)
		}
		p.attachAdditional(m, z)
		return
	}

	if exact := z.Lookup(qname, qtype); exact != nil {
		m.Answer = append(m.Answer, exact...)
		p.attachRRSIG(m, z, qname, qtype, do)
		p.attachAdditional(m, z)
		return
	}

	if cnames := z.Lookup(qname, dns.TypeCNAME); len(cnames) > 0 && qtype != dns.TypeCNAME {
		m.Answer = append(m.Answer, cnames...)
		p.chaseCNAME(m, z, cnames[0].(*dns.CNAME), qtype, do)
		p.attachAdditional(m, z)
		return
	}

	if z.HasName(qname) {
		// Name exists, but not with this type and no CNAME: NODATA.
		p.negativeAuthority(m, z, qname)
		return
	}

	if z.HasDescendant(qname) {
		// Empty non-terminal: NOERROR, no answer, no wildcard synthesis.
		p.negativeAuthority(m, z, qname)
		return
	}

	synth, blocked := synthesizeWildcard(z, qname, qtype, do)
	if synth != nil {
		m.Answer = append(m.Answer, synth...)
		p.attachAdditional(m, z)
		return
	}
	if blocked {
		// An existing ancestor shadows any higher wildcard; the name
		// resolves as if under an empty non-terminal.
		p.negativeAuthority(m, z, qname)
		return
	}

	m.Rcode = dns.RcodeNameError
	p.negativeAuthority(m, z, qname)
}

// chaseCNAME follows target within z, appending every hop's CNAME record
// and, if reached, the terminal record set to m.Answer. The answer holds at
// most maxCNAMEHops CNAME records, first included.
func (p *Processor) chaseCNAME(m *dns.Msg, z *zone.Zone, first *dns.CNAME, qtype uint16, do bool) {
	visited := map[string]bool{dns.Fqdn(first.Hdr.Name): true}
	cur := first.Target

	for hop := 0; hop < maxCNAMEHops; hop++ {
		cur = dns.Fqdn(cur)
		if visited[cur] {
			return
		}
		visited[cur] = true

		if !dns.IsSubDomain(z.Origin, cur) {
			return
		}

		if records := z.Lookup(cur, qtype); records != nil {
			m.Answer = append(m.Answer, records...)
			p.attachRRSIG(m, z, cur, qtype, do)
			return
		}

		next := z.Lookup(cur, dns.TypeCNAME)
		if len(next) == 0 || hop == maxCNAMEHops-1 {
			return
		}
		m.Answer = append(m.Answer, next...)
		cur = next[0].(*dns.CNAME).Target
	}
}

// attachRRSIG appends the RRSIG record set covering qtype at owner when the
// resolver requested DNSSEC (DO bit set). Direct RRSIG queries already see
// their answer through the exact-match path regardless of DO.
func (p *Processor) attachRRSIG(m *dns.Msg, z *zone.Zone, owner string, qtype uint16, do bool) {
	if !do || qtype == dns.TypeRRSIG {
		return
	}
	for _, rr := range z.Lookup(owner, dns.TypeRRSIG) {
		sig, ok := rr.(*dns.RRSIG)
		if ok && sig.TypeCovered == qtype {
			m.Answer = append(m.Answer, rr)
		}
	}
}

// negativeAuthority fills in the SOA-bearing authority section for an
// NXDOMAIN or NODATA response, using the zone SOA's minimum TTL as the
// negative-caching TTL per RFC 2308.
func (p *Processor) negativeAuthority(m *dns.Msg, z *zone.Zone, _ string) {
	if z.SOA == nil {
		return
	}
	soa := dns.Copy(z.SOA).(*dns.SOA)
	soa.Hdr.Ttl = soa.Minttl
	m.Ns = []dns.RR{soa}
}

// attachAdditional appends glue A/AAAA records for NS, MX, or SRV targets
// named in the answer section, deduplicated across what's already present.
// The first answer record that is not a CNAME selects which of the three
// target types gets glue; in a mixed-type answer (such as ANY), targets of
// the other two types get none.
func (p *Processor) attachAdditional(m *dns.Msg, z *zone.Zone) {
	if len(m.Answer) == 0 {
		return
	}
	seen := make(map[string]bool)
	for _, rr := range m.Extra {
		seen[glueKey(rr)] = true
	}
	for _, rr := range m.Answer {
		seen[glueKey(rr)] = true
	}

	lead := m.Answer[0]
	for _, a := range m.Answer {
		if _, ok := a.(*dns.CNAME); !ok {
			lead = a
			break
		}
	}

	var targets []string
	switch lead.(type) {
	case *dns.NS:
		for _, a := range m.Answer {
			if ns, ok := a.(*dns.NS); ok {
				targets = append(targets, ns.Ns)
			}
		}
	case *dns.MX:
		for _, a := range m.Answer {
			if mx, ok := a.(*dns.MX); ok {
				targets = append(targets, mx.Mx)
			}
		}
	case *dns.SRV:
		for _, a := range m.Answer {
			if srv, ok := a.(*dns.SRV); ok {
				targets = append(targets, srv.Target)
			}
		}
	default:
		return
	}

	for _, target := range targets {
		for _, rrtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			for _, glue := range z.Lookup(target, rrtype) {
				key := glueKey(glue)
				if seen[key] {
					continue
				}
				seen[key] = true
				m.Extra = append(m.Extra, glue)
			}
		}
	}
}

func glueKey(rr dns.RR) string {
	h := rr.Header()
	return fmt.Sprintf("%s|%d", h.Name, h.Rrtype)
}

// synthesizeWildcard walks qname's ancestors looking for a wildcard record
// set covering qtype, returning a copy with the owner rewritten to qname
// (plus, when do is set, the wildcard's RRSIG set covering qtype, expanded
// the same way). The walk stops at the first ancestor that exists in the
// zone (with records of its own or as an empty non-terminal): that
// ancestor is the closest encloser, and wildcards above it must not
// synthesize names beneath it. blocked reports that case so the caller can
// answer NOERROR empty instead of NXDOMAIN.
func synthesizeWildcard(z *zone.Zone, qname string, qtype uint16, do bool) (out []dns.RR, blocked bool) {
	labels := dns.SplitDomainName(qname)
	for i := 1; i < len(labels); i++ {
		ancestor := joinLabels(labels[i:])
		records := z.Lookup("*."+ancestor, qtype)
		if records != nil {
			if do && qtype != dns.TypeRRSIG {
				for _, rr := range z.Lookup("*."+ancestor, dns.TypeRRSIG) {
					if sig, ok := rr.(*dns.RRSIG); ok && sig.TypeCovered == qtype {
						records = append(records[:len(records):len(records)], rr)
					}
				}
			}
			out = make([]dns.RR, len(records))
			for j, rr := range records {
				clone := dns.Copy(rr)
				clone.Header().Name = dns.Fqdn(qname)
				out[j] = clone
			}
			return out, false
		}
		if z.HasName("*." + ancestor) {
			// The wildcard matches but has no set of this type: the
			// synthesized name exists without data.
			return nil, true
		}
		if z.HasName(ancestor) {
			// Closest encloser has records of its own and no wildcard:
			// the query name simply does not exist.
			return nil, false
		}
		if z.HasDescendant(ancestor) {
			// Closest encloser is an empty non-terminal; it blocks any
			// wildcard above it.
			return nil, true
		}
	}
	return nil, false
}

func joinLabels(labels []string) string {
	if len(labels) == 0 {
		return "."
	}
	name := ""
	for _, l := range labels {
		name += l + "."
	}
	return name
}

// truncate enforces payloadCap on a datagram response by stripping
// sections in order (additional, then authority) before falling back to a
// minimal TC=1, question-only message.
func truncate(m *dns.Msg, payloadCap int) {
	if m.Len() <= payloadCap {
		return
	}
	m.Extra = nil
	if m.Len() <= payloadCap {
		return
	}
	m.Ns = nil
	if m.Len() <= payloadCap {
		return
	}
	m.Answer = nil
	m.Truncated = true
}
