package query

import (
	"github.com/dnsscience/dnsscienced/internal/zone"
	"github.com/miekg/dns"
)

// maxAXFRMsgSize bounds each AXFR frame, matching the stream transport cap.
const maxAXFRMsgSize = 65535

// StreamAXFR emits the zone transfer for z as a sequence of frames: the
// SOA, every record in canonical order batched to stay under
// maxAXFRMsgSize, and the SOA again as terminator. emit is called once per
// frame, in order; the transport supplies it to write a length-prefixed
// message to the connection. StreamAXFR stops at the first error emit
// returns.
func StreamAXFR(z *zone.Zone, reqID uint16, emit func(*dns.Msg) error) error {
	if z.SOA == nil {
		return nil
	}

	records := []dns.RR{z.SOA}
	for _, rr := range z.IterAll() {
		if rr.Header().Rrtype == dns.TypeSOA {
			continue
		}
		records = append(records, rr)
	}
	records = append(records, z.SOA)

	batch := make([]dns.RR, 0, 64)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		m := new(dns.Msg)
		m.Id = reqID
		m.Response = true
		m.Opcode = dns.OpcodeQuery
		m.Authoritative = true
		m.Question = []dns.Question{{Name: z.Origin, Qtype: dns.TypeAXFR, Qclass: dns.ClassINET}}
		m.Answer = batch
		err := emit(m)
		batch = make([]dns.RR, 0, 64)
		return err
	}

	for _, rr := range records {
		trial := append(append([]dns.RR{}, batch...), rr)
		if msgLen(z, reqID, trial) > maxAXFRMsgSize && len(batch) > 0 {
			if err := flush(); err != nil {
				return err
			}
		}
		batch = append(batch, rr)
	}
	return flush()
}

func msgLen(z *zone.Zone, reqID uint16, rrs []dns.RR) int {
	m := new(dns.Msg)
	m.Id = reqID
	m.Response = true
	m.Authoritative = true
	m.Question = []dns.Question{{Name: z.Origin, Qtype: dns.TypeAXFR, Qclass: dns.ClassINET}}
	m.Answer = rrs
	return m.Len()
}
