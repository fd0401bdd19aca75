package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "mixproxy"

var (
	sessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "sessions_active",
		Help:      "Sessions currently in the registry.",
	}, []string{"kind"})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "sessions_total",
		Help:      "Sessions created by the factory.",
	}, []string{"kind"})

	factoryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "factory_errors_total",
		Help:      "Connections rejected during classification or handshake.",
	}, []string{"reason"})

	relayBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "relay_bytes_total",
		Help:      "Bytes relayed, by direction.",
	}, []string{"direction"})

	udpDatagrams = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "udp_datagrams_total",
		Help:      "UDP association datagrams, by outcome.",
	}, []string{"result"})
)

var (
	relayUpstreamBytes   = relayBytes.WithLabelValues("upstream")
	relayDownstreamBytes = relayBytes.WithLabelValues("downstream")

	udpForwarded = udpDatagrams.WithLabelValues("forwarded")
	udpDropped   = udpDatagrams.WithLabelValues("dropped")
	udpReturned  = udpDatagrams.WithLabelValues("returned")
)

func (c *Config) relayOptions() RelayOptions {
	return RelayOptions{
		RateLimit:  c.RateLimit,
		Upstream:   relayUpstreamBytes,
		Downstream: relayDownstreamBytes,
	}
}
