package dnssec

import (
	"testing"

	"github.com/miekg/dns"
)

func mustDNSKEY(t *testing.T, s string) *dns.DNSKEY {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("parse DNSKEY: %v", err)
	}
	return rr.(*dns.DNSKEY)
}

func TestKeyTag_MatchesLibrary(t *testing.T) {
	k := mustDNSKEY(t, "example.com. 3600 IN DNSKEY 257 3 8 AwEAAagbzYkg+Xm4lOgMkQ4Fb4vlSvJMXQJLfQ5+o4NqqnfG4dYJ")
	if got, want := KeyTag(k), k.KeyTag(); got != want {
		t.Errorf("KeyTag() = %d, want %d", got, want)
	}
}

func TestDSMatches(t *testing.T) {
	k := mustDNSKEY(t, "example.com. 3600 IN DNSKEY 257 3 8 AwEAAagbzYkg+Xm4lOgMkQ4Fb4vlSvJMXQJLfQ5+o4NqqnfG4dYJ")
	ds := k.ToDS(dns.SHA256)
	if ds == nil {
		t.Fatal("ToDS returned nil")
	}
	if !DSMatches(k, ds) {
		t.Error("expected matching DS to validate")
	}

	bad := *ds
	bad.Digest = "0000000000000000000000000000000000000000000000000000000000000000"
	if DSMatches(k, &bad) {
		t.Error("expected mismatched digest to fail")
	}
}

func TestDSMatches_UnsupportedDigestType(t *testing.T) {
	k := mustDNSKEY(t, "example.com. 3600 IN DNSKEY 257 3 8 AwEAAagbzYkg+Xm4lOgMkQ4Fb4vlSvJMXQJLfQ5+o4NqqnfG4dYJ")
	ds := &dns.DS{DigestType: 255}
	if DSMatches(k, ds) {
		t.Error("expected unsupported digest type to return false")
	}
}

func TestRRSIGTimeValid(t *testing.T) {
	sig := &dns.RRSIG{Inception: 1000, Expiration: 2000}
	if !RRSIGTimeValid(sig, 1500) {
		t.Error("expected 1500 to be within [1000,2000]")
	}
	if RRSIGTimeValid(sig, 999) {
		t.Error("expected 999 to be before inception")
	}
	if RRSIGTimeValid(sig, 2001) {
		t.Error("expected 2001 to be after expiration")
	}
}

func TestRRSIGTimeValid_Wraparound(t *testing.T) {
	// Inception near the 32-bit rollover, expiration just after it.
	sig := &dns.RRSIG{Inception: 0xFFFFFFF0, Expiration: 10}
	if !RRSIGTimeValid(sig, 0xFFFFFFFF) {
		t.Error("expected time just before wraparound to be valid")
	}
	if !RRSIGTimeValid(sig, 5) {
		t.Error("expected time just after wraparound to be valid")
	}
	if RRSIGTimeValid(sig, 1000) {
		t.Error("expected time well past expiration (post-wrap) to be invalid")
	}
}

func TestNSECDenies_TypeAbsent(t *testing.T) {
	nsec := &dns.NSEC{
		Hdr:        dns.RR_Header{Name: "www.example.com."},
		NextDomain: "zzz.example.com.",
		TypeBitMap: []uint16{dns.TypeA, dns.TypeRRSIG, dns.TypeNSEC},
	}
	if v := NSECDenies(nsec, "www.example.com.", dns.TypeAAAA); v != TypeAbsent {
		t.Errorf("NSECDenies() = %v, want TypeAbsent", v)
	}
	if v := NSECDenies(nsec, "www.example.com.", dns.TypeA); v != NoDenial {
		t.Errorf("NSECDenies() = %v, want NoDenial for a present type", v)
	}
}

func TestNSECDenies_NameCovered(t *testing.T) {
	nsec := &dns.NSEC{
		Hdr:        dns.RR_Header{Name: "aaa.example.com."},
		NextDomain: "mmm.example.com.",
	}
	if v := NSECDenies(nsec, "ccc.example.com.", dns.TypeA); v != NameCovered {
		t.Errorf("NSECDenies() = %v, want NameCovered", v)
	}
	if v := NSECDenies(nsec, "zzz.example.com.", dns.TypeA); v != NoDenial {
		t.Errorf("NSECDenies() = %v, want NoDenial outside the covered range", v)
	}
}

func TestNSECDenies_ApexWraparound(t *testing.T) {
	// Last NSEC in the zone: next_domain wraps back to the apex.
	nsec := &dns.NSEC{
		Hdr:        dns.RR_Header{Name: "www.example.com."},
		NextDomain: "example.com.",
	}
	if v := NSECDenies(nsec, "zzz.example.com.", dns.TypeA); v != NameCovered {
		t.Errorf("NSECDenies() = %v, want NameCovered past the last name", v)
	}
}
