package zone

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"
)

// The "dnszone" format is a structured YAML rendering of a zone, the
// interchange counterpart to the master-file syntax ParseBIND reads.
// ConvertBINDToDNSZone produces it; ParseDNSZone loads it, so operators
// can keep zones in either representation.

// DNSZoneFile is the top-level structure of a .dnszone YAML file.
type DNSZoneFile struct {
	Zone    ZoneSection              `yaml:"zone"`
	SOA     SOASection               `yaml:"soa"`
	Records map[string]RecordSection `yaml:"records"`
	DNSSEC  *DNSSECSection           `yaml:"dnssec,omitempty"`
}

// ZoneSection holds zone metadata.
type ZoneSection struct {
	Name    string `yaml:"name"`
	TTL     string `yaml:"ttl,omitempty"`
	Class   string `yaml:"class,omitempty"`
	Comment string `yaml:"comment,omitempty"`
}

// SOASection holds SOA record details. Timing fields accept either raw
// seconds or duration shorthand ("2h", "1d", "2w"); serial may be "auto".
type SOASection struct {
	PrimaryNS   string `yaml:"primary_ns"`
	Contact     string `yaml:"contact"`
	Serial      string `yaml:"serial"`
	Refresh     string `yaml:"refresh"`
	Retry       string `yaml:"retry"`
	Expire      string `yaml:"expire"`
	NegativeTTL string `yaml:"negative_ttl"`
}

// RecordSection holds the record sets at one owner name. Single-valued
// fields take a bare scalar; multi-valued ones take a scalar or a list.
type RecordSection struct {
	A     interface{} `yaml:"A,omitempty"`
	AAAA  interface{} `yaml:"AAAA,omitempty"`
	CNAME string      `yaml:"CNAME,omitempty"`
	MX    interface{} `yaml:"MX,omitempty"`
	NS    interface{} `yaml:"NS,omitempty"`
	TXT   interface{} `yaml:"TXT,omitempty"`
	SRV   interface{} `yaml:"SRV,omitempty"`
	PTR   string      `yaml:"PTR,omitempty"`
	TLSA  interface{} `yaml:"TLSA,omitempty"`
	CAA   interface{} `yaml:"CAA,omitempty"`

	TTL     int    `yaml:"ttl,omitempty"`
	Comment string `yaml:"comment,omitempty"`
}

// MXRecord is the structured MX form.
type MXRecord struct {
	Priority int    `yaml:"priority"`
	Target   string `yaml:"target"`
}

// SRVRecord is the structured SRV form.
type SRVRecord struct {
	Priority int    `yaml:"priority"`
	Weight   int    `yaml:"weight"`
	Port     int    `yaml:"port"`
	Target   string `yaml:"target"`
}

// TLSARecord is the structured TLSA form.
type TLSARecord struct {
	Usage    int    `yaml:"usage"`
	Selector int    `yaml:"selector"`
	Matching int    `yaml:"matching"`
	Data     string `yaml:"data"`
}

// CAARecord is the structured CAA form.
type CAARecord struct {
	Flags int    `yaml:"flags"`
	Tag   string `yaml:"tag"`
	Value string `yaml:"value"`
}

// DNSSECSection holds per-zone DNSSEC configuration.
type DNSSECSection struct {
	Enabled     bool   `yaml:"enabled"`
	Algorithm   string `yaml:"algorithm,omitempty"`
	KSKLifetime string `yaml:"ksk-lifetime,omitempty"`
	ZSKLifetime string `yaml:"zsk-lifetime,omitempty"`
}

// ParseDNSZone loads a .dnszone YAML file into a Zone, validated when
// cfg.Strict is set.
func ParseDNSZone(filename string, cfg Config) (*Zone, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var zf DNSZoneFile
	if err := yaml.Unmarshal(data, &zf); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	zone := New(zf.Zone.Name)

	defaultTTL := cfg.DefaultTTL
	if zf.Zone.TTL != "" {
		if ttl, err := parseDuration(zf.Zone.TTL); err == nil {
			defaultTTL = uint32(ttl.Seconds())
		}
	}

	soa, err := parseSOA(&zf, zone.Origin, defaultTTL)
	if err != nil {
		return nil, fmt.Errorf("parse SOA: %w", err)
	}
	zone.AddRecord(soa)

	for owner, section := range zf.Records {
		recordTTL := defaultTTL
		if section.TTL > 0 {
			recordTTL = uint32(section.TTL)
		}

		fqdn := zone.fullyQualify(owner)
		if err := addSectionRecords(zone, fqdn, section, recordTTL); err != nil {
			return nil, fmt.Errorf("records for %s: %w", owner, err)
		}
	}

	if zf.DNSSEC != nil && zf.DNSSEC.Enabled {
		zone.DNSSEC = &DNSSECConfig{Enabled: true}
		if zf.DNSSEC.Algorithm != "" {
			zone.DNSSEC.Algorithm = dnssecAlgorithm(zf.DNSSEC.Algorithm)
		}
	}

	if cfg.Strict {
		if err := zone.Validate(); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
	}

	return zone, nil
}

// addSectionRecords builds and adds every record a RecordSection describes
// at one owner name.
func addSectionRecords(zone *Zone, owner string, section RecordSection, ttl uint32) error {
	hdr := func(rrtype uint16) dns.RR_Header {
		return dns.RR_Header{Name: owner, Rrtype: rrtype, Class: dns.ClassINET, Ttl: ttl}
	}

	addrs, err := stringList(section.A, "A")
	if err != nil {
		return err
	}
	for _, s := range addrs {
		ip := net.ParseIP(s)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("invalid IPv4 address: %s", s)
		}
		zone.AddRecord(&dns.A{Hdr: hdr(dns.TypeA), A: ip.To4()})
	}

	addrs, err = stringList(section.AAAA, "AAAA")
	if err != nil {
		return err
	}
	for _, s := range addrs {
		ip := net.ParseIP(s)
		if ip == nil {
			return fmt.Errorf("invalid IPv6 address: %s", s)
		}
		zone.AddRecord(&dns.AAAA{Hdr: hdr(dns.TypeAAAA), AAAA: ip.To16()})
	}

	if section.CNAME != "" {
		if err := zone.AddRecord(&dns.CNAME{Hdr: hdr(dns.TypeCNAME), Target: dns.Fqdn(section.CNAME)}); err != nil {
			return err
		}
	}
	if section.PTR != "" {
		if err := zone.AddRecord(&dns.PTR{Hdr: hdr(dns.TypePTR), Ptr: dns.Fqdn(section.PTR)}); err != nil {
			return err
		}
	}

	names, err := stringList(section.NS, "NS")
	if err != nil {
		return err
	}
	for _, ns := range names {
		zone.AddRecord(&dns.NS{Hdr: hdr(dns.TypeNS), Ns: dns.Fqdn(ns)})
	}

	texts, err := stringList(section.TXT, "TXT")
	if err != nil {
		return err
	}
	for _, txt := range texts {
		zone.AddRecord(&dns.TXT{Hdr: hdr(dns.TypeTXT), Txt: []string{txt}})
	}

	for _, item := range mapList(section.MX) {
		zone.AddRecord(&dns.MX{
			Hdr:        hdr(dns.TypeMX),
			Preference: uint16(intField(item, "priority")),
			Mx:         dns.Fqdn(strField(item, "target")),
		})
	}

	for _, item := range mapList(section.SRV) {
		zone.AddRecord(&dns.SRV{
			Hdr:      hdr(dns.TypeSRV),
			Priority: uint16(intField(item, "priority")),
			Weight:   uint16(intField(item, "weight")),
			Port:     uint16(intField(item, "port")),
			Target:   dns.Fqdn(strField(item, "target")),
		})
	}

	for _, item := range mapList(section.TLSA) {
		zone.AddRecord(&dns.TLSA{
			Hdr:          hdr(dns.TypeTLSA),
			Usage:        uint8(intField(item, "usage")),
			Selector:     uint8(intField(item, "selector")),
			MatchingType: uint8(intField(item, "matching")),
			Certificate:  strings.ToUpper(strField(item, "data")),
		})
	}

	for _, item := range mapList(section.CAA) {
		zone.AddRecord(&dns.CAA{
			Hdr:   hdr(dns.TypeCAA),
			Flag:  uint8(intField(item, "flags")),
			Tag:   strField(item, "tag"),
			Value: strField(item, "value"),
		})
	}

	return nil
}

// stringList accepts the scalar-or-list YAML shapes a multi-valued record
// field allows, returning the values in document order.
func stringList(data interface{}, field string) ([]string, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s record value %v", field, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("invalid %s record format", field)
	}
}

// mapList accepts a single mapping or a list of mappings for structured
// record fields (MX, SRV, TLSA, CAA); unrecognized shapes yield nothing.
func mapList(data interface{}) []map[string]interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{v}
	case []interface{}:
		var out []map[string]interface{}
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func intField(m map[string]interface{}, key string) int {
	if n, ok := m[key].(int); ok {
		return n
	}
	return 0
}

func strField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// parseSOA builds the SOA record from the YAML soa section.
func parseSOA(zf *DNSZoneFile, origin string, defaultTTL uint32) (*dns.SOA, error) {
	soa := &dns.SOA{
		Hdr: dns.RR_Header{
			Name:   origin,
			Rrtype: dns.TypeSOA,
			Class:  dns.ClassINET,
			Ttl:    defaultTTL,
		},
		Ns:   dns.Fqdn(zf.SOA.PrimaryNS),
		Mbox: formatEmailAddress(zf.SOA.Contact),
	}

	if zf.SOA.Serial == "auto" {
		// YYYYMMDD00, the same scheme IncrementSerial maintains.
		today := time.Now().Format("20060102")
		fmt.Sscanf(today+"00", "%d", &soa.Serial)
	} else {
		var serial uint64
		fmt.Sscanf(zf.SOA.Serial, "%d", &serial)
		soa.Serial = uint32(serial)
	}

	var err error
	if soa.Refresh, err = parseTime(zf.SOA.Refresh); err != nil {
		return nil, fmt.Errorf("invalid refresh: %w", err)
	}
	if soa.Retry, err = parseTime(zf.SOA.Retry); err != nil {
		return nil, fmt.Errorf("invalid retry: %w", err)
	}
	if soa.Expire, err = parseTime(zf.SOA.Expire); err != nil {
		return nil, fmt.Errorf("invalid expire: %w", err)
	}
	if soa.Minttl, err = parseTime(zf.SOA.NegativeTTL); err != nil {
		return nil, fmt.Errorf("invalid negative_ttl: %w", err)
	}

	return soa, nil
}

// parseDuration parses a duration with the extra day/week suffixes zone
// timing values commonly use.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	if strings.HasSuffix(s, "w") {
		weeks, err := strconv.Atoi(strings.TrimSuffix(s, "w"))
		if err != nil {
			return 0, err
		}
		return time.Duration(weeks) * 7 * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// parseTime parses a timing value as duration shorthand or raw seconds.
func parseTime(s string) (uint32, error) {
	if d, err := parseDuration(s); err == nil {
		return uint32(d.Seconds()), nil
	}
	var seconds uint64
	if _, err := fmt.Sscanf(s, "%d", &seconds); err == nil {
		return uint32(seconds), nil
	}
	return 0, fmt.Errorf("invalid time format: %s", s)
}

// formatEmailAddress converts a contact email to RNAME form.
func formatEmailAddress(email string) string {
	email = strings.ReplaceAll(email, "@", ".")
	return dns.Fqdn(email)
}

// dnssecAlgorithm maps an algorithm mnemonic to its number, defaulting to
// ECDSAP256SHA256.
func dnssecAlgorithm(name string) uint8 {
	switch strings.ToUpper(name) {
	case "RSASHA256":
		return dns.RSASHA256
	case "RSASHA512":
		return dns.RSASHA512
	case "ECDSAP256SHA256":
		return dns.ECDSAP256SHA256
	case "ECDSAP384SHA384":
		return dns.ECDSAP384SHA384
	case "ED25519":
		return dns.ED25519
	default:
		return dns.ECDSAP256SHA256
	}
}
