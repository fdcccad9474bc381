// Package metrics exposes Prometheus instruments for disputes, treasury
// subsidies, the outbox relay and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stakecourt"

// Collector implements the Metrics interfaces of the dispute, treasury and
// outbox packages. A nil *Collector is a no-op.
type Collector struct {
	registry *prometheus.Registry

	disputesInitiated *prometheus.CounterVec
	stakesDeposited   prometheus.Counter
	counters          prometheus.Counter
	counterFees       prometheus.Counter
	resolutions       *prometheus.CounterVec
	burned            prometheus.Counter
	subsidies         prometheus.Counter
	subsidyAmount     prometheus.Counter
	treasuryDeposits  prometheus.Counter
	outboxPublished   *prometheus.CounterVec
	outboxFailed      *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpLatency       *prometheus.HistogramVec
}

// New registers every instrument on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		disputesInitiated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispute",
			Name:      "initiated_total",
			Help:      "Disputes opened, by whether the stake was escalated",
		}, []string{"escalated"}),
		stakesDeposited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispute",
			Name:      "stakes_deposited_total",
			Help:      "Counterparty stakes deposited",
		}),
		counters: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispute",
			Name:      "counter_proposals_total",
			Help:      "Paid counter-proposals accepted",
		}),
		counterFees: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispute",
			Name:      "counter_fees_total",
			Help:      "Counter-proposal fees collected, in stake units",
		}),
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispute",
			Name:      "resolved_total",
			Help:      "Disputes resolved, by outcome",
		}, []string{"outcome"}),
		burned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispute",
			Name:      "burned_total",
			Help:      "Stake units sent to the burn account on resolution",
		}),
		subsidies: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "treasury",
			Name:      "subsidies_total",
			Help:      "Subsidies granted",
		}),
		subsidyAmount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "treasury",
			Name:      "subsidy_amount_total",
			Help:      "Stake units granted as subsidies",
		}),
		treasuryDeposits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "treasury",
			Name:      "deposits_total",
			Help:      "Stake units deposited into the treasury",
		}),
		outboxPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox messages published, by topic",
		}, []string{"topic"}),
		outboxFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "failed_total",
			Help:      "Outbox publish failures, by topic and whether the message was dead-lettered",
		}, []string{"topic", "dead_lettered"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by route and status code",
		}, []string{"route", "code"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route"}),
	}
}

func (c *Collector) DisputeInitiated(escalated bool) {
	if c == nil {
		return
	}
	c.disputesInitiated.WithLabelValues(strconv.FormatBool(escalated)).Inc()
}

func (c *Collector) DisputeStaked() {
	if c == nil {
		return
	}
	c.stakesDeposited.Inc()
}

func (c *Collector) CounterProposed(fee int64) {
	if c == nil {
		return
	}
	c.counters.Inc()
	c.counterFees.Add(float64(fee))
}

func (c *Collector) DisputeResolved(outcome string, burned int64) {
	if c == nil {
		return
	}
	c.resolutions.WithLabelValues(outcome).Inc()
	c.burned.Add(float64(burned))
}

func (c *Collector) SubsidyGranted(amount int64) {
	if c == nil {
		return
	}
	c.subsidies.Inc()
	c.subsidyAmount.Add(float64(amount))
}

func (c *Collector) TreasuryDeposit(amount int64) {
	if c == nil {
		return
	}
	c.treasuryDeposits.Add(float64(amount))
}

func (c *Collector) OutboxPublished(topic string) {
	if c == nil {
		return
	}
	c.outboxPublished.WithLabelValues(topic).Inc()
}

func (c *Collector) OutboxFailed(topic string, deadLettered bool) {
	if c == nil {
		return
	}
	c.outboxFailed.WithLabelValues(topic, strconv.FormatBool(deadLettered)).Inc()
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(route string, code int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
