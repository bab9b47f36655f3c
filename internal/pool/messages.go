// Package pool recycles dns.Msg values across queries to cut allocation
// churn on the hot response path.
package pool

import (
	"sync"

	"github.com/miekg/dns"
)

var messagePool = sync.Pool{
	New: func() interface{} {
		return new(dns.Msg)
	},
}

// GetMessage returns a zeroed message from the pool.
func GetMessage() *dns.Msg {
	return messagePool.Get().(*dns.Msg)
}

// PutMessage resets msg and returns it to the pool. Every header field and
// section is cleared before reuse so no data from one client's response can
// leak into another's - don't skip fields here, it's a security concern.
func PutMessage(msg *dns.Msg) {
	if msg == nil {
		return
	}

	msg.Id = 0
	msg.Response = false
	msg.Opcode = 0
	msg.Authoritative = false
	msg.Truncated = false
	msg.RecursionDesired = false
	msg.RecursionAvailable = false
	msg.Zero = false
	msg.AuthenticatedData = false
	msg.CheckingDisabled = false
	msg.Rcode = 0
	msg.Compress = false

	// Clear slices but keep capacity.
	msg.Question = msg.Question[:0]
	msg.Answer = msg.Answer[:0]
	msg.Ns = msg.Ns[:0]
	msg.Extra = msg.Extra[:0]

	messagePool.Put(msg)
}
