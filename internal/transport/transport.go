// Package transport runs the datagram and stream DNS listeners: one
// dns.Server per UDP listener with SO_REUSEPORT, one dns.Server for TCP,
// sharing the query processor, rate limiter, cookie manager, and metrics
// sink across both.
package transport

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/dnsscience/dnsscienced/internal/cookie"
	"github.com/dnsscience/dnsscienced/internal/eventbus"
	"github.com/dnsscience/dnsscienced/internal/metrics"
	"github.com/dnsscience/dnsscienced/internal/pool"
	"github.com/dnsscience/dnsscienced/internal/query"
	"github.com/dnsscience/dnsscienced/internal/ratelimit"
	"github.com/dnsscience/dnsscienced/internal/store"
	"github.com/dnsscience/dnsscienced/internal/worker"
	"github.com/dnsscience/dnsscienced/internal/zone"
	"github.com/miekg/dns"
)

// Config holds the transport layer's settings.
type Config struct {
	UDPAddr      string
	TCPAddr      string
	UDPListeners int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	RateLimitQPS float64

	// CookieSecret pins the DNS Cookie SipHash key for load-balanced
	// deployments; nil generates a per-process key with daily rotation.
	CookieSecret []byte

	AXFRWorkers   int
	AXFRQueueSize int
}

// DefaultConfig returns sensible defaults, one UDP listener per CPU.
func DefaultConfig() Config {
	return Config{
		UDPAddr:      ":53",
		TCPAddr:      ":53",
		UDPListeners: runtime.NumCPU(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
		RateLimitQPS: 0,

		AXFRWorkers:   4,
		AXFRQueueSize: 32,
	}
}

// Server runs the listeners that front a query.Processor.
type Server struct {
	cfg       Config
	processor *query.Processor
	limiter   *ratelimit.Limiter
	metrics   metrics.Sink
	bus       *eventbus.Bus
	axfr      *worker.Pool
	cookies   *cookie.Manager
	stopCh    chan struct{}

	udpServers []*dns.Server
	tcpServer  *dns.Server

	wg sync.WaitGroup
}

// New builds a Server around an already-constructed zones manager. The
// Server owns the rate limiter, cookie manager, and AXFR worker pool it
// builds from cfg.
func New(cfg Config, zones *store.Manager, sink metrics.Sink, bus *eventbus.Bus) (*Server, error) {
	if sink == nil {
		sink = metrics.NewNoop()
	}
	cookies, err := cookie.NewManager(cfg.CookieSecret)
	if err != nil {
		return nil, fmt.Errorf("cookie manager: %w", err)
	}
	s := &Server{
		cfg:       cfg,
		processor: query.New(zones, sink),
		limiter:   ratelimit.New(cfg.RateLimitQPS, 60*time.Second),
		metrics:   sink,
		bus:       bus,
		cookies:   cookies,
		stopCh:    make(chan struct{}),
		axfr: worker.NewPool(worker.Config{
			Workers:   cfg.AXFRWorkers,
			QueueSize: cfg.AXFRQueueSize,
		}),
	}
	go cookies.RotatePeriodically(s.stopCh)

	for i := 0; i < cfg.UDPListeners; i++ {
		s.udpServers = append(s.udpServers, &dns.Server{
			Addr:         cfg.UDPAddr,
			Net:          "udp",
			ReusePort:    true,
			Handler:      dns.HandlerFunc(s.handleUDP),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			UDPSize:      4096,
		})
	}

	s.tcpServer = &dns.Server{
		Addr:         cfg.TCPAddr,
		Net:          "tcp",
		Handler:      dns.HandlerFunc(s.handleTCP),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  func() time.Duration { return cfg.IdleTimeout },
	}

	return s, nil
}

// Start launches every listener goroutine, waiting for each socket to
// bind before moving to the next. A bind failure is returned immediately
// so the caller can treat it as fatal; errors after startup (a listener
// dying mid-flight) are reported on the server event bus topic instead,
// since a single failed SO_REUSEPORT listener shouldn't abort the others.
func (s *Server) Start(ctx context.Context) error {
	for i, srv := range s.udpServers {
		if err := s.startListener(ctx, srv, fmt.Sprintf("udp listener %d", i)); err != nil {
			return err
		}
	}
	return s.startListener(ctx, s.tcpServer, "tcp listener")
}

func (s *Server) startListener(ctx context.Context, srv *dns.Server, name string) error {
	started := make(chan struct{})
	errCh := make(chan error, 1)
	srv.NotifyStartedFunc = func() { close(started) }

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.ListenAndServe(); err != nil {
			select {
			case errCh <- err:
			default:
			}
			s.publish(ctx, fmt.Sprintf("%s: %v", name, err))
		}
	}()

	select {
	case <-started:
		return nil
	case err := <-errCh:
		return fmt.Errorf("%s: %w", name, err)
	}
}

// Shutdown stops every listener and waits (bounded by ctx) for in-flight
// tasks to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, srv := range s.udpServers {
		srv.Shutdown()
	}
	s.tcpServer.Shutdown()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	close(s.stopCh)
	s.limiter.Close()
	return s.axfr.Close()
}

func (s *Server) publish(ctx context.Context, msg string) {
	if s.bus != nil {
		s.bus.Publish(ctx, eventbus.TopicServer, msg)
	}
}

// handleUDP answers a single datagram query.
func (s *Server) handleUDP(w dns.ResponseWriter, r *dns.Msg) {
	defer s.recoverQuery(w, r)
	s.metrics.IncUDP()
	s.serve(w, r, query.UDPTransport)
}

// handleTCP answers a single query over an already-accepted stream
// connection; miekg/dns's dns.Server handles the 2-byte length-prefix
// framing for us on both read and write.
func (s *Server) handleTCP(w dns.ResponseWriter, r *dns.Msg) {
	defer s.recoverQuery(w, r)
	s.metrics.IncTCP()

	if len(r.Question) == 1 && r.Question[0].Qtype == dns.TypeAXFR {
		s.serveAXFR(w, r)
		return
	}
	s.serve(w, r, query.TCPTransport)
}

// recoverQuery converts a panic while answering one query into a SERVFAIL
// for that query alone; an invariant violation must never take the
// process down.
func (s *Server) recoverQuery(w dns.ResponseWriter, r *dns.Msg) {
	rec := recover()
	if rec == nil {
		return
	}
	s.publish(context.Background(), fmt.Sprintf("panic answering %s: %v", questionName(r), rec))

	m := new(dns.Msg)
	m.SetRcode(r, dns.RcodeServerFailure)
	s.metrics.IncByRcode(dns.RcodeServerFailure)
	w.WriteMsg(m)
}

func questionName(r *dns.Msg) string {
	if len(r.Question) == 0 {
		return "(no question)"
	}
	return r.Question[0].Name
}

func (s *Server) serve(w dns.ResponseWriter, r *dns.Msg, transport query.Transport) {
	clientIP := remoteIP(w)

	if s.limiter.Admit(clientIP) == ratelimit.Drop {
		s.metrics.IncRateLimited()
		return
	}

	result := s.processor.Process(r, transport)
	if result.Msg == nil {
		return
	}
	defer pool.PutMessage(result.Msg)
	if s.cookies.Apply(r, result.Msg, clientIP) == cookie.Malformed {
		// RFC 7873 5.2.2: a COOKIE option that breaks the size rules
		// gets FORMERR, not an answer.
		result.Msg.Answer = nil
		result.Msg.Ns = nil
		result.Msg.Rcode = dns.RcodeFormatError
	}
	w.WriteMsg(result.Msg)
}

// serveAXFR streams a zone transfer as a worker-pool job so a large
// transfer can't starve the listener goroutine or other connections.
func (s *Server) serveAXFR(w dns.ResponseWriter, r *dns.Msg) {
	clientIP := remoteIP(w)
	if s.limiter.Admit(clientIP) == ratelimit.Drop {
		s.metrics.IncRateLimited()
		return
	}

	result := s.processor.Process(r, query.TCPTransport)
	if result.Hint != query.AXFRHint || result.Zone == nil {
		if result.Msg != nil {
			defer pool.PutMessage(result.Msg)
			w.WriteMsg(result.Msg)
		}
		return
	}

	job := worker.JobFunc(func(ctx context.Context) error {
		return query.StreamAXFR(result.Zone, r.Id, func(frame *dns.Msg) error {
			return w.WriteMsg(frame)
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := s.axfr.Submit(ctx, job); err != nil {
		s.publish(ctx, fmt.Sprintf("axfr transfer of %s failed: %v", r.Question[0].Name, err))
	}
}

func remoteIP(w dns.ResponseWriter) net.IP {
	switch addr := w.RemoteAddr().(type) {
	case *net.UDPAddr:
		return addr.IP
	case *net.TCPAddr:
		return addr.IP
	default:
		return nil
	}
}

// Reload re-parses every configured zone file, builds a fresh store, and
// atomically publishes it. A parse or validation failure leaves the
// previous store in place and is reported on the event bus rather than
// aborting the process.
func Reload(ctx context.Context, mgr *store.Manager, bus *eventbus.Bus, zoneFiles map[string]string, cfg zone.Config) error {
	var zones []*zone.Zone
	for origin, file := range zoneFiles {
		z, err := zone.ParseBIND(file, origin, cfg)
		if err != nil {
			if bus != nil {
				bus.Publish(ctx, eventbus.TopicZone, fmt.Sprintf("reload: parse %s: %v", file, err))
			}
			return fmt.Errorf("parse zone %s: %w", file, err)
		}
		zones = append(zones, z)
	}

	next, err := store.Build(zones)
	if err != nil {
		if bus != nil {
			bus.Publish(ctx, eventbus.TopicZone, fmt.Sprintf("reload: build store: %v", err))
		}
		return fmt.Errorf("build store: %w", err)
	}

	prev := mgr.Publish(next)
	if bus != nil {
		prevFingerprint := ""
		if prev != nil {
			prevFingerprint = prev.Fingerprint()
		}
		bus.Publish(ctx, eventbus.TopicZone, fmt.Sprintf("reload: %s -> %s", prevFingerprint, next.Fingerprint()))
	}
	return nil
}
