package pool

import (
	"testing"

	"github.com/miekg/dns"
)

func TestPutMessage_ResetsEverything(t *testing.T) {
	msg := GetMessage()
	msg.SetQuestion("www.example.com.", dns.TypeA)
	msg.Response = true
	msg.Authoritative = true
	msg.Truncated = true
	msg.Rcode = dns.RcodeNameError
	msg.Compress = true
	rr, err := dns.NewRR("www.example.com. 300 IN A 192.0.2.10")
	if err != nil {
		t.Fatalf("NewRR: %v", err)
	}
	msg.Answer = append(msg.Answer, rr)
	msg.Ns = append(msg.Ns, rr)
	msg.Extra = append(msg.Extra, rr)

	PutMessage(msg)
	got := GetMessage()

	// The pool may or may not hand back the same object; either way a
	// fetched message must carry no residue.
	if got.Response || got.Authoritative || got.Truncated || got.Compress {
		t.Error("header flags not reset")
	}
	if got.Rcode != dns.RcodeSuccess {
		t.Errorf("Rcode = %d, want 0", got.Rcode)
	}
	if len(got.Question) != 0 || len(got.Answer) != 0 || len(got.Ns) != 0 || len(got.Extra) != 0 {
		t.Error("sections not cleared")
	}
}

func TestPutMessage_NilIsSafe(t *testing.T) {
	PutMessage(nil)
}
