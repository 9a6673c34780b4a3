// Package observability exports prometheus metrics for outbound calls and
// inbound dispatch.
package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mineclover/iframe-remote/correlator"
	"github.com/mineclover/iframe-remote/message"
	"github.com/mineclover/iframe-remote/middleware"
)

var (
	registerOnce sync.Once

	callsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iframe_remote",
			Subsystem: "calls",
			Name:      "issued_total",
			Help:      "Outbound requests and rpc calls registered with a correlator.",
		},
		[]string{"component"},
	)
	callsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iframe_remote",
			Subsystem: "calls",
			Name:      "settled_total",
			Help:      "Settled outbound calls by outcome.",
		},
		[]string{"component", "outcome"},
	)
	callsPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "iframe_remote",
			Subsystem: "calls",
			Name:      "pending",
			Help:      "Outbound calls awaiting settlement.",
		},
		[]string{"component"},
	)
	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "iframe_remote",
			Subsystem: "calls",
			Name:      "duration_seconds",
			Help:      "Time from issue to settlement in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"component", "outcome"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "iframe_remote",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Inbound request handling duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"component", "method", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(callsIssued, callsSettled, callsPending, callDuration, dispatchDuration)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

// OutcomeOK labels a successful settlement.
const OutcomeOK = "ok"

// Observer feeds correlator events into the call metrics.
type Observer struct {
	component string
}

var _ correlator.Observer = (*Observer)(nil)

func NewObserver(component string) *Observer {
	RegisterMetrics()
	return &Observer{component: component}
}

func (o *Observer) CallIssued() {
	callsIssued.WithLabelValues(o.component).Inc()
	callsPending.WithLabelValues(o.component).Inc()
}

func (o *Observer) CallSettled(code correlator.Code, elapsed time.Duration) {
	outcome := OutcomeOK
	if code != "" {
		outcome = string(code)
	}
	callsSettled.WithLabelValues(o.component, outcome).Inc()
	callsPending.WithLabelValues(o.component).Dec()
	callDuration.WithLabelValues(o.component, outcome).Observe(elapsed.Seconds())
}

// DispatchMiddleware times every inbound request by method name and outcome.
func DispatchMiddleware(component string) middleware.Middleware {
	RegisterMetrics()
	return func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			start := time.Now()
			resp := next(ctx, req)
			success := "false"
			if resp != nil && resp.Succeeded() {
				success = "true"
			}
			dispatchDuration.WithLabelValues(component, middleware.Name(req), success).
				Observe(time.Since(start).Seconds())
			return resp
		}
	}
}
