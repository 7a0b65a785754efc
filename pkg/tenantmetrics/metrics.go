// Package tenantmetrics counts tenant lifecycle events with Prometheus.
package tenantmetrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dasaradhy/apartment/pkg/tenancy"
)

// Metrics holds the lifecycle collectors.
type Metrics struct {
	events *prometheus.CounterVec
}

// New creates the collectors under namespace (e.g. "apartment").
func New(namespace string) *Metrics {
	return &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenancy",
			Name:      "events_total",
			Help:      "Tenant lifecycle events by event name.",
		}, []string{"event"}),
	}
}

// Register adds the collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m.events)
}

// Attach counts every lifecycle event fired by mgr. Counting never fails the
// operation that fired the event.
func (m *Metrics) Attach(mgr *tenancy.Manager) error {
	var errs []error
	for _, ev := range tenancy.Events() {
		counter := m.events.WithLabelValues(string(ev))
		errs = append(errs, mgr.SetCallback(ev, func(context.Context, string) error {
			counter.Inc()
			return nil
		}))
	}
	return errors.Join(errs...)
}

// Events exposes the event counter.
func (m *Metrics) Events() *prometheus.CounterVec { return m.events }

// Handler serves the metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
