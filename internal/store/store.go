// Package store holds the in-memory, atomically swappable index of loaded
// zones that the query processor resolves names against.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dnsscience/dnsscienced/internal/zone"
	"github.com/miekg/dns"
)

// ErrDuplicateOrigin is returned by Build when two zones share an origin.
var ErrDuplicateOrigin = errors.New("duplicate zone origin")

// ErrInvalidZone wraps a zone.Validate failure encountered during Build.
var ErrInvalidZone = errors.New("invalid zone")

// Store is an immutable, fingerprinted index of zones keyed by origin. A
// Store is never mutated after Build; a reload produces a brand new Store
// and callers atomically swap to it via Manager.
type Store struct {
	zones   map[string]*zone.Zone
	origins []string // longest origin (most labels) first, for suffix matching
	fprint  string
}

// Build validates and indexes a set of zones, failing if two zones share an
// origin or any zone fails its own validation.
func Build(zones []*zone.Zone) (*Store, error) {
	m := make(map[string]*zone.Zone, len(zones))
	for _, z := range zones {
		if z == nil {
			continue
		}
		if _, dup := m[z.Origin]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOrigin, z.Origin)
		}
		if err := z.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidZone, z.Origin, err)
		}
		m[z.Origin] = z
	}

	origins := make([]string, 0, len(m))
	for o := range m {
		origins = append(origins, o)
	}
	sort.Slice(origins, func(i, j int) bool {
		li, lj := len(dns.SplitDomainName(origins[i])), len(dns.SplitDomainName(origins[j]))
		if li != lj {
			return li > lj
		}
		return origins[i] < origins[j]
	})

	return &Store{zones: m, origins: origins, fprint: fingerprint(m, origins)}, nil
}

// AuthoritativeFor returns the zone whose origin is the longest suffix of
// name among all loaded zones, or ok=false if none is authoritative.
func (s *Store) AuthoritativeFor(name string) (origin string, z *zone.Zone, ok bool) {
	name = dns.Fqdn(strings.ToLower(name))
	for _, o := range s.origins {
		if dns.IsSubDomain(o, name) {
			return o, s.zones[o], true
		}
	}
	return "", nil, false
}

// Zone returns the zone loaded for an exact origin, or nil.
func (s *Store) Zone(origin string) *zone.Zone {
	return s.zones[dns.Fqdn(strings.ToLower(origin))]
}

// Zones returns every loaded zone, most-specific origin first (more labels
// first, equal label counts by name), for enumeration by
// operational tooling (reload diagnostics, AXFR authorization checks).
func (s *Store) Zones() []*zone.Zone {
	out := make([]*zone.Zone, 0, len(s.zones))
	for _, o := range s.origins {
		out = append(out, s.zones[o])
	}
	return out
}

// Fingerprint is a hash of every loaded zone's origin, serial and record
// count, stable across reloads of the same zones. An edit that changes
// neither a zone's serial nor its record count (an address changed in
// place, say) leaves the fingerprint unchanged.
func (s *Store) Fingerprint() string {
	return s.fprint
}

// Len reports how many zones are loaded.
func (s *Store) Len() int {
	return len(s.zones)
}

func fingerprint(zones map[string]*zone.Zone, origins []string) string {
	h := sha256.New()
	for _, o := range origins {
		z := zones[o]
		fmt.Fprintf(h, "%s|%d|%d\n", o, z.GetStats().Records, serialOf(z))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func serialOf(z *zone.Zone) uint32 {
	if z.SOA == nil {
		return 0
	}
	return z.SOA.Serial
}

// Manager owns the single publication point for the live Store: an
// atomic.Pointer swapped on reload. Readers call Snapshot, which never
// blocks on a concurrent reload; writers serialize against each other with
// a simple build-then-swap so in-flight queries always see one consistent
// generation for their whole lifetime.
type Manager struct {
	mu      sync.Mutex // serializes writers; readers never take it
	current atomic.Pointer[Store]
}

// NewManager wraps an already-built Store as the initial published
// generation.
func NewManager(initial *Store) *Manager {
	m := &Manager{}
	m.current.Store(initial)
	return m
}

// Snapshot returns the currently published Store. It is non-blocking and
// safe to call from any number of concurrent readers.
func (m *Manager) Snapshot() *Store {
	return m.current.Load()
}

// Publish atomically swaps in a pre-built Store, returning the previous
// generation (useful for logging a before/after fingerprint). Concurrent
// publishers serialize against each other; readers are never blocked.
func (m *Manager) Publish(next *Store) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Swap(next)
}
