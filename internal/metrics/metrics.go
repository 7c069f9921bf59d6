// Package metrics exposes Prometheus instrumentation for the AS4 sender.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ShowKa/Oxalis-AS4/pkg/as4"
	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
)

const namespace = "as4_sender"

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Collector records transmission and dispatch observations.
type Collector struct {
	TransmissionsTotal   *prometheus.CounterVec
	TransmissionDuration prometheus.Histogram
	DispatchDuration     *prometheus.HistogramVec
	NetworkErrorsTotal   *prometheus.CounterVec
}

var _ as4.Metrics = (*Collector)(nil)

// New registers the sender metrics with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		TransmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transmissions_total",
				Help:      "Total number of outbound transmissions by outcome and error kind",
			},
			[]string{"outcome", "kind"},
		),
		TransmissionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transmission_duration_seconds",
				Help:      "Duration of a full transmission in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of the HTTP exchange with the receiving access point in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
		NetworkErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "network_errors_total",
				Help:      "Total number of network failures by cause",
			},
			[]string{"cause"},
		),
	}
}

// ObserveDispatch records one wire exchange.
func (c *Collector) ObserveDispatch(d time.Duration, err error) {
	c.DispatchDuration.WithLabelValues(outcome(err)).Observe(d.Seconds())
	if err == nil {
		return
	}
	var terr *transmission.Error
	if errors.As(err, &terr) && terr.Kind == transmission.KindNetwork {
		c.NetworkErrorsTotal.WithLabelValues(terr.Network.String()).Inc()
	}
}

// ObserveTransmission records one completed Send.
func (c *Collector) ObserveTransmission(d time.Duration, err error) {
	c.TransmissionDuration.Observe(d.Seconds())
	kind := "none"
	if err != nil {
		kind = "unknown"
		if k, ok := transmission.KindOf(err); ok {
			kind = k.String()
		}
	}
	c.TransmissionsTotal.WithLabelValues(outcome(err), kind).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
