package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/tabauth"
	"github.com/MrEthical07/tabauth/metrics/export/internaldefs"
)

// Source is anything that reports tab metrics; *tabauth.Client satisfies it.
type Source interface {
	MetricsSnapshot() tabauth.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders the summed metrics of one or more tabs in Prometheus text
// exposition format.
type Exporter struct {
	sources []Source
}

// NewExporter reads from the given tabs. Counters and buckets are summed
// across them.
func NewExporter(tabs ...*tabauth.Client) *Exporter {
	sources := make([]Source, 0, len(tabs))
	for _, tab := range tabs {
		if tab != nil {
			sources = append(sources, tab)
		}
	}
	return &Exporter{sources: sources}
}

func NewExporterFromSources(sources ...Source) *Exporter {
	return &Exporter{sources: sources}
}

// Handler serves Render on every request.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current exposition, or "" when every source has
// metrics disabled.
func (p *Exporter) Render() string {
	if p == nil || len(p.sources) == 0 {
		return ""
	}

	counters, histograms, dropped, enabled := p.collect()
	if !enabled {
		return ""
	}

	var b strings.Builder
	b.Grow(6144)

	for _, def := range internaldefs.CounterDefs {
		writeCounter(&b, def.Name, def.Help, counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		writeHistogram(&b, def.Name, def.Help, internaldefs.CumulativeBuckets(histograms[def.ID]))
	}
	writeCounter(&b, "tabauth_audit_dropped_total", "Audit events dropped because the buffer was full.", dropped)

	return b.String()
}

func (p *Exporter) collect() (map[tabauth.MetricID]uint64, map[tabauth.MetricID][tabauth.HistogramBucketCount]uint64, uint64, bool) {
	counters := make(map[tabauth.MetricID]uint64, tabauth.MetricCount)
	histograms := make(map[tabauth.MetricID][tabauth.HistogramBucketCount]uint64, len(internaldefs.HistogramDefs))
	var dropped uint64
	var enabled bool

	for _, src := range p.sources {
		snap := src.MetricsSnapshot()
		d := src.AuditDropped()
		if len(snap.Counters) > 0 || len(snap.Histograms) > 0 || d > 0 {
			enabled = true
		}
		dropped += d
		for id, v := range snap.Counters {
			counters[id] += v
		}
		for id, raw := range snap.Histograms {
			sum := histograms[id]
			buckets := internaldefs.NormalizeBuckets(raw)
			for i := range sum {
				sum[i] += buckets[i]
			}
			histograms[id] = sum
		}
	}
	return counters, histograms, dropped, enabled
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	writeHeader(b, name, help, "counter")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [tabauth.HistogramBucketCount]uint64) {
	writeHeader(b, name, help, "histogram")

	for i, le := range internaldefs.HistogramBounds {
		b.WriteString(name)
		b.WriteString("_bucket{le=\"")
		b.WriteString(le)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}

	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(cumulative[len(cumulative)-1], 10))
	b.WriteByte('\n')

	// Snapshots keep bucket counts only.
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
