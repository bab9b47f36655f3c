package zone

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"
)

// ConvertBINDToDNSZone parses a master-file zone and re-renders it as the
// YAML "dnszone" interchange format defined by DNSZoneFile, giving
// operators a path off hand-edited master files without abandoning the
// records already in production.
func ConvertBINDToDNSZone(filename, origin string, cfg Config) (string, error) {
	z, err := ParseBIND(filename, origin, cfg)
	if err != nil {
		return "", err
	}

	zf := &DNSZoneFile{
		Zone:    ZoneSection{Name: strings.TrimSuffix(z.Origin, ".")},
		Records: make(map[string]RecordSection),
	}

	if z.SOA != nil {
		zf.SOA = SOASection{
			PrimaryNS:   strings.TrimSuffix(z.SOA.Ns, "."),
			Contact:     mboxToEmail(z.SOA.Mbox),
			Serial:      strconv.FormatUint(uint64(z.SOA.Serial), 10),
			Refresh:     strconv.FormatUint(uint64(z.SOA.Refresh), 10),
			Retry:       strconv.FormatUint(uint64(z.SOA.Retry), 10),
			Expire:      strconv.FormatUint(uint64(z.SOA.Expire), 10),
			NegativeTTL: strconv.FormatUint(uint64(z.SOA.Minttl), 10),
		}
	}

	for _, rr := range z.IterAll() {
		if rr.Header().Rrtype == dns.TypeSOA {
			continue
		}

		rel := makeRelative(rr.Header().Name, z.Origin)
		section := zf.Records[rel]

		switch v := rr.(type) {
		case *dns.A:
			section.A = appendRecordValue(section.A, v.A.String())
		case *dns.AAAA:
			section.AAAA = appendRecordValue(section.AAAA, v.AAAA.String())
		case *dns.NS:
			section.NS = appendRecordValue(section.NS, strings.TrimSuffix(v.Ns, "."))
		case *dns.CNAME:
			section.CNAME = strings.TrimSuffix(v.Target, ".")
		case *dns.PTR:
			section.PTR = strings.TrimSuffix(v.Ptr, ".")
		case *dns.TXT:
			for _, s := range v.Txt {
				section.TXT = appendRecordValue(section.TXT, s)
			}
		case *dns.MX:
			section.MX = appendRecordValue(section.MX, MXRecord{
				Priority: int(v.Preference),
				Target:   strings.TrimSuffix(v.Mx, "."),
			})
		case *dns.SRV:
			section.SRV = appendRecordValue(section.SRV, SRVRecord{
				Priority: int(v.Priority),
				Weight:   int(v.Weight),
				Port:     int(v.Port),
				Target:   strings.TrimSuffix(v.Target, "."),
			})
		case *dns.CAA:
			section.CAA = appendRecordValue(section.CAA, CAARecord{
				Flags: int(v.Flag),
				Tag:   v.Tag,
				Value: v.Value,
			})
		case *dns.TLSA:
			section.TLSA = appendRecordValue(section.TLSA, TLSARecord{
				Usage:    int(v.Usage),
				Selector: int(v.Selector),
				Matching: int(v.MatchingType),
				Data:     v.Certificate,
			})
		}

		zf.Records[rel] = section
	}

	out, err := yaml.Marshal(zf)
	if err != nil {
		return "", fmt.Errorf("marshal dnszone YAML: %w", err)
	}

	return string(out), nil
}

// appendRecordValue accumulates values into the interface{} slots used by
// RecordSection: nil becomes a bare value, a bare value becomes a two
// element list, and a list is appended to, matching how ParseDNSZone
// already accepts either shape on the way in.
func appendRecordValue(existing interface{}, value interface{}) interface{} {
	if existing == nil {
		return value
	}
	if list, ok := existing.([]interface{}); ok {
		return append(list, value)
	}
	return []interface{}{existing, value}
}

// mboxToEmail reverses formatEmailAddress: a master-file RNAME such as
// "hostmaster.example.org." becomes "hostmaster@example.org", splitting on
// the first dot; an escaped dot in the local part is not recognized.
func mboxToEmail(mbox string) string {
	mbox = strings.TrimSuffix(mbox, ".")
	idx := strings.Index(mbox, ".")
	if idx == -1 {
		return mbox
	}
	return mbox[:idx] + "@" + mbox[idx+1:]
}
