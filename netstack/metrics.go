package netstack

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the networking stack's counters via
// prometheus/client_golang, the way the retrieval pack's own
// runZeroInc-conniver and runZeroInc-sockstats repos export process
// counters through their pkg/exporter packages. Unlike those, Metrics is
// instantiated per Stack rather than registered against the default global
// registry, so tests can create independent stacks without collector
// name collisions.
type Metrics struct {
	Registry *prometheus.Registry

	EthDropped  prometheus.Counter
	EthTxFrames prometheus.Counter
	EthTxErrors prometheus.Counter

	IPDropped   prometheus.Counter
	IPDelivered prometheus.Counter
	IPSent      prometheus.Counter

	ICMPDropped prometheus.Counter
	ICMPSent    prometheus.Counter

	UDPSent      prometheus.Counter
	UDPDropped   prometheus.Counter
	UDPDelivered prometheus.Counter

	TCPSegmentsSent    prometheus.Counter
	TCPDropped         prometheus.Counter
	TCPEstablished     prometheus.Counter
	TCPRetransmits     prometheus.Counter
	TCPFastRetransmits prometheus.Counter
	TCPBacklogDrops    prometheus.Counter
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nanokern",
		Subsystem: "netstack",
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates and registers a fresh counter set against its own
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		EthDropped:  counter("eth_dropped_total", "Ethernet frames dropped on ingress"),
		EthTxFrames: counter("eth_tx_frames_total", "Ethernet frames handed to a NIC driver"),
		EthTxErrors: counter("eth_tx_errors_total", "Ethernet frames a NIC driver rejected"),

		IPDropped:   counter("ip_dropped_total", "IPv4 datagrams dropped on ingress"),
		IPDelivered: counter("ip_delivered_total", "IPv4 datagrams delivered to an upper protocol"),
		IPSent:      counter("ip_sent_total", "IPv4 datagrams sent"),

		ICMPDropped: counter("icmp_dropped_total", "ICMP messages dropped"),
		ICMPSent:    counter("icmp_sent_total", "ICMP messages sent"),

		UDPSent:      counter("udp_sent_total", "UDP datagrams sent"),
		UDPDropped:   counter("udp_dropped_total", "UDP datagrams dropped"),
		UDPDelivered: counter("udp_delivered_total", "UDP datagrams delivered to a bound socket"),

		TCPSegmentsSent:    counter("tcp_segments_sent_total", "TCP segments transmitted"),
		TCPDropped:         counter("tcp_dropped_total", "TCP segments dropped"),
		TCPEstablished:     counter("tcp_established_total", "TCP connections that reached ESTABLISHED"),
		TCPRetransmits:     counter("tcp_retransmits_total", "TCP retransmission-timeout events"),
		TCPFastRetransmits: counter("tcp_fast_retransmits_total", "TCP fast-retransmit events"),
		TCPBacklogDrops:    counter("tcp_backlog_drops_total", "SYNs dropped due to a full listen backlog"),
	}

	for _, c := range []prometheus.Collector{
		m.EthDropped, m.EthTxFrames, m.EthTxErrors,
		m.IPDropped, m.IPDelivered, m.IPSent,
		m.ICMPDropped, m.ICMPSent,
		m.UDPSent, m.UDPDropped, m.UDPDelivered,
		m.TCPSegmentsSent, m.TCPDropped, m.TCPEstablished, m.TCPRetransmits, m.TCPFastRetransmits, m.TCPBacklogDrops,
	} {
		m.Registry.MustRegister(c)
	}
	return m
}
