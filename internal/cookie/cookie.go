// Package cookie implements server-side DNS Cookies (RFC 7873, RFC 9018)
// for the EDNS0 negotiation path: the transport layer attaches a fresh or
// re-validated server cookie to every response whose request carried a
// well-formed COOKIE option; a malformed option gets FORMERR and no server
// cookie. SipHash-2-4 keying follows BIND 9's approach:
// https://kb.isc.org/docs/aa-01387
package cookie

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/dchest/siphash"
	"github.com/miekg/dns"
)

// ErrShortSecret is returned by NewManager for an operator-supplied secret
// below the SipHash key size.
var ErrShortSecret = errors.New("cookie secret must be at least 16 bytes")

const (
	// RFC 7873 sizes: a fixed 8-byte client cookie, and a server cookie of
	// 8-32 bytes. This implementation emits the RFC 9018 interoperable
	// 16-byte form: version | reserved[3] | timestamp[4] | hash[8].
	clientCookieSize = 8
	serverCookieSize = 16

	cookieVersion = 1

	// How long an issued server cookie stays acceptable, and how much
	// client clock skew into the future is tolerated (BIND 9 defaults).
	cookieValidFor = 1 * time.Hour
	clockSkewGrace = 5 * time.Minute

	secretRotationInterval = 24 * time.Hour
)

// Verdict classifies the cookie state of an incoming query.
type Verdict int

const (
	// None means the request carried no COOKIE option.
	None Verdict = iota
	// Fresh means a client cookie with no (or an unverifiable) server
	// cookie; a new server cookie was issued.
	Fresh
	// Valid means the presented server cookie verified against a live
	// secret; it was reissued with a current timestamp.
	Valid
	// Malformed means the COOKIE option violates the RFC 7873 size rules;
	// the caller should respond FORMERR per RFC 7873 §5.2.2.
	Malformed
)

// Manager issues and validates server cookies. Secrets rotate in the
// background; a cookie minted under the previous secret stays valid for
// one rotation interval so rotation never storms clients with Fresh
// reissues.
type Manager struct {
	mu       sync.RWMutex
	current  [16]byte
	previous [16]byte

	fixedSecret bool
}

// NewManager builds a Manager. secret pins the SipHash key so a
// load-balanced deployment can share cookies across servers; it must be at
// least 16 bytes when given. A nil secret generates a random per-process
// key and enables rotation.
func NewManager(secret []byte) (*Manager, error) {
	m := &Manager{}
	if secret != nil {
		if len(secret) < 16 {
			return nil, ErrShortSecret
		}
		copy(m.current[:], secret)
		m.fixedSecret = true
		return m, nil
	}
	if err := m.rotate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) rotate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fixedSecret {
		return nil
	}
	m.previous = m.current
	_, err := rand.Read(m.current[:])
	return err
}

// RotatePeriodically rotates the secret every 24h until stop closes.
// Shared, operator-supplied secrets are never rotated.
func (m *Manager) RotatePeriodically(stop <-chan struct{}) {
	ticker := time.NewTicker(secretRotationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.rotate()
		case <-stop:
			return
		}
	}
}

// Apply inspects req's COOKIE option and, when one is present, sets the
// matching COOKIE option on resp's OPT record (which the query processor
// has already attached). The returned Verdict tells the transport whether
// the request's cookie verified, so it can weight rate-limit decisions or
// count metrics; Apply itself never rejects a query.
func (m *Manager) Apply(req, resp *dns.Msg, clientIP net.IP) Verdict {
	reqCookie := findCookie(req)
	if reqCookie == nil {
		return None
	}

	raw, err := hex.DecodeString(reqCookie.Cookie)
	if err != nil || len(raw) < clientCookieSize || len(raw) > clientCookieSize+32 {
		return Malformed
	}
	if n := len(raw) - clientCookieSize; n != 0 && n < 8 {
		return Malformed
	}

	var clientCookie [clientCookieSize]byte
	copy(clientCookie[:], raw[:clientCookieSize])

	verdict := Fresh
	if m.verify(clientCookie, raw[clientCookieSize:], clientIP) {
		verdict = Valid
	}

	server := m.mint(clientCookie, clientIP, uint32(time.Now().Unix()))
	setCookie(resp, hex.EncodeToString(append(clientCookie[:], server...)))
	return verdict
}

// mint builds the 16-byte server cookie for (clientCookie, clientIP) at
// timestamp ts under the current secret.
func (m *Manager) mint(clientCookie [clientCookieSize]byte, clientIP net.IP, ts uint32) []byte {
	m.mu.RLock()
	secret := m.current
	m.mu.RUnlock()
	return mintWith(secret, clientCookie, clientIP, ts)
}

func mintWith(secret [16]byte, clientCookie [clientCookieSize]byte, clientIP net.IP, ts uint32) []byte {
	out := make([]byte, serverCookieSize)
	out[0] = cookieVersion
	binary.BigEndian.PutUint32(out[4:8], ts)

	h := siphash.New(secret[:])
	h.Write(clientCookie[:])
	h.Write(out[:8])
	h.Write(ipBytes(clientIP))
	binary.LittleEndian.PutUint64(out[8:], h.Sum64())
	return out
}

// verify checks a presented server cookie: right size and version, a
// timestamp inside the validity window, and a hash that matches under the
// current or previous secret.
func (m *Manager) verify(clientCookie [clientCookieSize]byte, serverCookie []byte, clientIP net.IP) bool {
	if len(serverCookie) != serverCookieSize || serverCookie[0] != cookieVersion {
		return false
	}

	ts := binary.BigEndian.Uint32(serverCookie[4:8])
	now := time.Now().Unix()
	age := now - int64(ts)
	if age > int64(cookieValidFor/time.Second) || age < -int64(clockSkewGrace/time.Second) {
		return false
	}

	m.mu.RLock()
	current, previous := m.current, m.previous
	m.mu.RUnlock()

	for _, secret := range [2][16]byte{current, previous} {
		expected := mintWith(secret, clientCookie, clientIP, ts)
		if constantTimeEqual(expected, serverCookie) {
			return true
		}
	}
	return false
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// ipBytes normalizes the client address to its 4-byte form for IPv4 so a
// cookie minted for a v4 client verifies regardless of mapped-address
// representation.
func ipBytes(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

func findCookie(msg *dns.Msg) *dns.EDNS0_COOKIE {
	opt := msg.IsEdns0()
	if opt == nil {
		return nil
	}
	for _, o := range opt.Option {
		if c, ok := o.(*dns.EDNS0_COOKIE); ok {
			return c
		}
	}
	return nil
}

func setCookie(msg *dns.Msg, value string) {
	opt := msg.IsEdns0()
	if opt == nil {
		return
	}
	for _, o := range opt.Option {
		if c, ok := o.(*dns.EDNS0_COOKIE); ok {
			c.Cookie = value
			return
		}
	}
	opt.Option = append(opt.Option, &dns.EDNS0_COOKIE{Code: dns.EDNS0COOKIE, Cookie: value})
}
