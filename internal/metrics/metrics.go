package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MinersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proxy",
		Name:      "miners_connected",
		Help:      "Number of active stratum miner sessions.",
	})

	TemplateHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proxy",
		Name:      "template_height",
		Help:      "Height of the block currently being mined.",
	})

	JobsBroadcast = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "proxy",
		Name:      "jobs_broadcast_total",
		Help:      "Total mining jobs broadcast to sessions.",
	})

	JobsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "proxy",
		Name:      "jobs_dropped_total",
		Help:      "Job notifications dropped on stalled session queues.",
	})

	SharesSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "proxy",
		Name:      "shares_submitted_total",
		Help:      "Total mining.submit calls received.",
	})

	BlockSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proxy",
		Name:      "block_submissions_total",
		Help:      "Block submission attempts by node verdict.",
	}, []string{"result"})

	ReportedHashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proxy",
		Name:      "reported_hashrate",
		Help:      "Sum of miner-reported hashrates in H/s.",
	})

	NetworkHashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proxy",
		Name:      "network_hashrate",
		Help:      "Network hashrate in H/s as reported by the node.",
	})
)

func init() {
	prometheus.MustRegister(
		MinersConnected,
		TemplateHeight,
		JobsBroadcast,
		JobsDropped,
		SharesSubmitted,
		BlockSubmissions,
		ReportedHashrate,
		NetworkHashrate,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
