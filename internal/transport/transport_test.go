package transport

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dnsscience/dnsscienced/internal/eventbus"
	"github.com/dnsscience/dnsscienced/internal/metrics"
	"github.com/dnsscience/dnsscienced/internal/ratelimit"
	"github.com/dnsscience/dnsscienced/internal/store"
	"github.com/dnsscience/dnsscienced/internal/zone"
	"github.com/miekg/dns"
)

type fakeWriter struct {
	remote  net.Addr
	written []*dns.Msg
}

func (f *fakeWriter) LocalAddr() net.Addr         { return f.remote }
func (f *fakeWriter) RemoteAddr() net.Addr        { return f.remote }
func (f *fakeWriter) WriteMsg(m *dns.Msg) error   { f.written = append(f.written, m.Copy()); return nil }
func (f *fakeWriter) Write(b []byte) (int, error) { return len(b), nil }
func (f *fakeWriter) Close() error                { return nil }
func (f *fakeWriter) TsigStatus() error           { return nil }
func (f *fakeWriter) TsigTimersOnly(bool)         {}
func (f *fakeWriter) Hijack()                     {}

func buildManager(t *testing.T) *store.Manager {
	t.Helper()
	z := zone.New("example.com.")
	add := func(s string) {
		r, err := dns.NewRR(s)
		if err != nil {
			t.Fatalf("parse RR: %v", err)
		}
		if err := z.AddRecord(r); err != nil {
			t.Fatalf("add record: %v", err)
		}
	}
	add("example.com. 3600 IN SOA ns1.example.com. admin.example.com. 1 7200 3600 1209600 86400")
	add("example.com. 3600 IN NS ns1.example.com.")
	add("ns1.example.com. 3600 IN A 192.0.2.1")
	add("www.example.com. 3600 IN A 192.0.2.10")

	s, err := store.Build([]*zone.Zone{z})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return store.NewManager(s)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.UDPListeners = 0 // don't actually bind a socket in this test
	s, err := New(cfg, buildManager(t), metrics.NewNoop(), eventbus.New(4))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestHandleUDP_AnswersQuery(t *testing.T) {
	s := newTestServer(t)
	w := &fakeWriter{remote: &net.UDPAddr{IP: net.ParseIP("203.0.113.5")}}
	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)

	s.handleUDP(w, req)

	if len(w.written) != 1 {
		t.Fatalf("expected one response written, got %d", len(w.written))
	}
	if w.written[0].Rcode != dns.RcodeSuccess {
		t.Errorf("Rcode = %d, want NOERROR", w.written[0].Rcode)
	}
}

func TestHandleUDP_RateLimited_DropsSilently(t *testing.T) {
	s := newTestServer(t)
	s.limiter.Close()
	s.limiter = ratelimit.New(0.5, time.Minute)
	defer s.limiter.Close()

	w := &fakeWriter{remote: &net.UDPAddr{IP: net.ParseIP("203.0.113.6")}}
	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)

	// Drain the one-token bucket, then confirm the next query is dropped.
	s.handleUDP(w, req)
	w.written = nil
	s.handleUDP(w, req)

	if len(w.written) != 0 {
		t.Errorf("expected no response written once the bucket is drained, got %d", len(w.written))
	}
}

func TestHandleUDP_EchoesServerCookie(t *testing.T) {
	s := newTestServer(t)
	w := &fakeWriter{remote: &net.UDPAddr{IP: net.ParseIP("203.0.113.7")}}
	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)
	opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
	opt.SetUDPSize(4096)
	opt.Option = append(opt.Option, &dns.EDNS0_COOKIE{Code: dns.EDNS0COOKIE, Cookie: "0011223344556677"})
	req.Extra = append(req.Extra, opt)

	s.handleUDP(w, req)

	if len(w.written) != 1 {
		t.Fatalf("expected one response written, got %d", len(w.written))
	}
	respOpt := w.written[0].IsEdns0()
	if respOpt == nil {
		t.Fatal("expected an OPT record in the response")
	}
	var got *dns.EDNS0_COOKIE
	for _, o := range respOpt.Option {
		if c, ok := o.(*dns.EDNS0_COOKIE); ok {
			got = c
		}
	}
	if got == nil {
		t.Fatal("expected a COOKIE option in the response OPT")
	}
	// 8-byte client cookie echoed plus a 16-byte server cookie, hex encoded.
	if len(got.Cookie) != 48 || got.Cookie[:16] != "0011223344556677" {
		t.Errorf("unexpected cookie %q", got.Cookie)
	}
}

func TestHandleUDP_MalformedCookie_FORMERR(t *testing.T) {
	s := newTestServer(t)
	w := &fakeWriter{remote: &net.UDPAddr{IP: net.ParseIP("203.0.113.8")}}
	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)
	opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
	opt.SetUDPSize(4096)
	opt.Option = append(opt.Option, &dns.EDNS0_COOKIE{Code: dns.EDNS0COOKIE, Cookie: "0011"})
	req.Extra = append(req.Extra, opt)

	s.handleUDP(w, req)

	if len(w.written) != 1 {
		t.Fatalf("expected one response written, got %d", len(w.written))
	}
	if w.written[0].Rcode != dns.RcodeFormatError {
		t.Errorf("Rcode = %d, want FORMERR for a short client cookie", w.written[0].Rcode)
	}
	if len(w.written[0].Answer) != 0 {
		t.Error("expected no answer section on FORMERR")
	}
}

func TestReload_PublishesNewStore(t *testing.T) {
	dir := t.TempDir()
	zoneFile := filepath.Join(dir, "example.com.zone")
	content := "" +
		"$ORIGIN example.com.\n" +
		"$TTL 3600\n" +
		"@ IN SOA ns1.example.com. admin.example.com. 2 7200 3600 1209600 86400\n" +
		"@ IN NS ns1.example.com.\n" +
		"ns1 IN A 192.0.2.1\n" +
		"www IN A 192.0.2.99\n"
	if err := os.WriteFile(zoneFile, []byte(content), 0o644); err != nil {
		t.Fatalf("write zone file: %v", err)
	}

	mgr := buildManager(t)
	before := mgr.Snapshot().Fingerprint()

	err := Reload(context.Background(), mgr, eventbus.New(4), map[string]string{"example.com.": zoneFile}, zone.DefaultConfig())
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	after := mgr.Snapshot().Fingerprint()
	if before == after {
		t.Error("expected fingerprint to change after reload with a bumped serial")
	}
}

func TestReload_LeavesPreviousStoreOnFailure(t *testing.T) {
	mgr := buildManager(t)
	before := mgr.Snapshot()

	err := Reload(context.Background(), mgr, eventbus.New(4), map[string]string{"example.com.": "/nonexistent/zone/file"}, zone.DefaultConfig())
	if err == nil {
		t.Fatal("expected an error for a missing zone file")
	}
	if mgr.Snapshot() != before {
		t.Error("expected the previous store to remain published after a failed reload")
	}
}
