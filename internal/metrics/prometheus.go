package metrics

import "github.com/prometheus/client_golang/prometheus"

// promSink backs Sink with real Prometheus counters.
type promSink struct {
	total       prometheus.Counter
	udp         prometheus.Counter
	tcp         prometheus.Counter
	byRcode     *prometheus.CounterVec
	rateLimited prometheus.Counter
}

// NewPrometheus builds a Sink registered against reg. Pass
// prometheus.DefaultRegisterer to expose it on the process-wide default
// handler, or a fresh prometheus.NewRegistry() in tests that want
// isolation.
func NewPrometheus(reg prometheus.Registerer) Sink {
	s := &promSink{
		total: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsscienced_queries_total",
			Help: "Total DNS queries received.",
		}),
		udp: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsscienced_queries_udp_total",
			Help: "DNS queries received over UDP.",
		}),
		tcp: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsscienced_queries_tcp_total",
			Help: "DNS queries received over TCP.",
		}),
		byRcode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dnsscienced_responses_total",
			Help: "DNS responses sent, by RCODE.",
		}, []string{"rcode"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsscienced_rate_limited_total",
			Help: "Queries dropped or refused by the rate limiter.",
		}),
	}

	reg.MustRegister(s.total, s.udp, s.tcp, s.byRcode, s.rateLimited)
	return s
}

func (s *promSink) IncTotal()       { s.total.Inc() }
func (s *promSink) IncUDP()         { s.udp.Inc() }
func (s *promSink) IncTCP()         { s.tcp.Inc() }
func (s *promSink) IncRateLimited() { s.rateLimited.Inc() }

func (s *promSink) IncByRcode(rcode int) {
	s.byRcode.WithLabelValues(rcodeLabel(rcode)).Inc()
}
