package store

import (
	"net"
	"testing"

	"github.com/dnsscience/dnsscienced/internal/zone"
	"github.com/miekg/dns"
)

func mustZone(t *testing.T, origin string) *zone.Zone {
	t.Helper()
	z := zone.New(origin)
	soa := &dns.SOA{
		Hdr:     dns.RR_Header{Name: z.Origin, Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: 3600},
		Ns:      "ns1." + z.Origin,
		Mbox:    "admin." + z.Origin,
		Serial:  1,
		Refresh: 7200,
		Retry:   3600,
		Expire:  1209600,
		Minttl:  86400,
	}
	if err := z.AddRecord(soa); err != nil {
		t.Fatalf("add SOA: %v", err)
	}
	ns := &dns.NS{Hdr: dns.RR_Header{Name: z.Origin, Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 3600}, Ns: "ns1." + z.Origin}
	if err := z.AddRecord(ns); err != nil {
		t.Fatalf("add NS: %v", err)
	}
	glue := &dns.A{Hdr: dns.RR_Header{Name: "ns1." + z.Origin, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 3600}, A: net.ParseIP("192.0.2.1").To4()}
	if err := z.AddRecord(glue); err != nil {
		t.Fatalf("add glue: %v", err)
	}
	return z
}

func TestBuild_DuplicateOrigin(t *testing.T) {
	z1 := mustZone(t, "example.com.")
	z2 := mustZone(t, "example.com.")

	if _, err := Build([]*zone.Zone{z1, z2}); err == nil {
		t.Fatal("expected ErrDuplicateOrigin, got nil")
	}
}

func TestBuild_InvalidZone(t *testing.T) {
	z := zone.New("bad.example.")
	if _, err := Build([]*zone.Zone{z}); err == nil {
		t.Fatal("expected validation error for zone missing SOA/NS")
	}
}

func TestAuthoritativeFor_LongestSuffix(t *testing.T) {
	parent := mustZone(t, "example.com.")
	child := mustZone(t, "sub.example.com.")

	s, err := Build([]*zone.Zone{parent, child})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	origin, z, ok := s.AuthoritativeFor("www.sub.example.com.")
	if !ok {
		t.Fatal("expected authoritative match")
	}
	if origin != "sub.example.com." {
		t.Errorf("origin = %s, want sub.example.com.", origin)
	}
	if z.Origin != "sub.example.com." {
		t.Errorf("zone origin = %s, want sub.example.com.", z.Origin)
	}

	origin, _, ok = s.AuthoritativeFor("other.example.com.")
	if !ok || origin != "example.com." {
		t.Errorf("expected example.com. to be authoritative for other.example.com., got %s, %v", origin, ok)
	}

	_, _, ok = s.AuthoritativeFor("example.org.")
	if ok {
		t.Error("expected no authoritative zone for example.org.")
	}
}

func TestAuthoritativeFor_CaseInsensitive(t *testing.T) {
	z := mustZone(t, "example.com.")
	s, err := Build([]*zone.Zone{z})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, _, ok := s.AuthoritativeFor("WWW.EXAMPLE.COM."); !ok {
		t.Error("expected case-insensitive match")
	}
}

func TestManager_PublishIsAtomic(t *testing.T) {
	z1 := mustZone(t, "example.com.")
	s1, err := Build([]*zone.Zone{z1})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	m := NewManager(s1)
	snap := m.Snapshot()
	if snap != s1 {
		t.Fatal("Snapshot() did not return the published generation")
	}

	z2 := mustZone(t, "example.org.")
	s2, err := Build([]*zone.Zone{z2})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	prev := m.Publish(s2)
	if prev != s1 {
		t.Error("Publish() did not return the previous generation")
	}

	// A handle obtained before the swap must keep seeing the old data.
	if _, _, ok := snap.AuthoritativeFor("example.com."); !ok {
		t.Error("old snapshot lost its zone after publish")
	}
	if _, _, ok := m.Snapshot().AuthoritativeFor("example.org."); !ok {
		t.Error("new snapshot missing newly published zone")
	}
}

func TestFingerprint_ChangesWithSerial(t *testing.T) {
	z := mustZone(t, "example.com.")
	s1, _ := Build([]*zone.Zone{z})

	z2 := mustZone(t, "example.com.")
	z2.SOA.Serial = 2
	s2, _ := Build([]*zone.Zone{z2})

	if s1.Fingerprint() == s2.Fingerprint() {
		t.Error("fingerprint should change when SOA serial changes")
	}
}
