package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/tabauth"
	"github.com/MrEthical07/tabauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is anything that reports tab metrics; *tabauth.Client satisfies it.
type Source interface {
	TabID() string
	MetricsSnapshot() tabauth.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         tabauth.MetricID
	instrument metric.Int64ObservableCounter
}

type observedHistogram struct {
	id      tabauth.MetricID
	buckets [tabauth.HistogramBucketCount]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// Exporter publishes tab metrics through an OpenTelemetry meter. Each source
// is observed separately under a "tab" attribute.
type Exporter struct {
	sources      []Source
	registration metric.Registration
	counters     []observedCounter
	histograms   []observedHistogram
	auditDropped metric.Int64ObservableCounter
}

func NewExporter(meter metric.Meter, tabs ...*tabauth.Client) (*Exporter, error) {
	sources := make([]Source, 0, len(tabs))
	for _, tab := range tabs {
		if tab == nil {
			return nil, ErrNilSource
		}
		sources = append(sources, tab)
	}
	return NewExporterFromSources(meter, sources...)
}

func NewExporterFromSources(meter metric.Meter, sources ...Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if len(sources) == 0 {
		return nil, ErrNilSource
	}
	for _, src := range sources {
		if src == nil {
			return nil, ErrNilSource
		}
	}

	e := &Exporter{
		sources:    sources,
		counters:   make([]observedCounter, 0, len(internaldefs.CounterDefs)),
		histograms: make([]observedHistogram, 0, len(internaldefs.HistogramDefs)),
	}
	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)*(tabauth.HistogramBucketCount+1)+1)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := observedHistogram{id: def.ID}
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + suffix
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative bucket count."), metric.WithUnit("1"))
			if err != nil {
				return nil, fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
			}
			h.buckets[i] = ins
			observables = append(observables, ins)
		}
		countIns, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription("Total samples."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s_count: %w", def.Name, err)
		}
		h.count = countIns
		observables = append(observables, countIns)
		e.histograms = append(e.histograms, h)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"tabauth_audit_dropped_total",
		metric.WithDescription("Audit events dropped because the buffer was full."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *Exporter) observe(_ context.Context, observer metric.Observer) error {
	for _, src := range e.sources {
		opt := metric.WithAttributes(attribute.String("tab", src.TabID()))
		snapshot := src.MetricsSnapshot()

		for _, c := range e.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]), opt)
		}
		for _, h := range e.histograms {
			cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
			for i := range cumulative {
				observer.ObserveInt64(h.buckets[i], int64(cumulative[i]), opt)
			}
			observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]), opt)
		}
		observer.ObserveInt64(e.auditDropped, int64(src.AuditDropped()), opt)
	}
	return nil
}

// Close unregisters the callback. The meter's instruments remain.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
