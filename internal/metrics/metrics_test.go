package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestDisabledRecordsNothing(t *testing.T) {
	m := New(Config{Enabled: false})
	m.Inc(LoginSuccess)
	m.Observe(AutoLoginLatency, time.Millisecond)

	if m.Value(LoginSuccess) != 0 {
		t.Fatal("disabled metrics must not count")
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(LoginSuccess)
	m.Observe(AutoLoginLatency, time.Second)
	if m.Enabled() || m.LatencyEnabled() || m.Value(LoginSuccess) != 0 {
		t.Fatal("nil metrics should be inert")
	}
	if len(m.Snapshot().Counters) != 0 {
		t.Fatal("nil snapshot should be empty")
	}
}

func TestConcurrentIncrement(t *testing.T) {
	m := New(Config{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(PollQuery)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(PollQuery); got != 16000 {
		t.Fatalf("expected 16000, got %d", got)
	}
}

func TestLatencyBuckets(t *testing.T) {
	m := New(Config{Enabled: true, EnableLatencyHistograms: true})

	samples := []time.Duration{
		10 * time.Millisecond,
		75 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		time.Minute,
	}
	for _, d := range samples {
		m.Observe(AutoLoginLatency, d)
	}
	// Only the auto-login latency has a histogram.
	m.Observe(PollQuery, time.Millisecond)

	buckets := m.Snapshot().Histograms[AutoLoginLatency]
	if len(buckets) != HistogramBucketCount {
		t.Fatalf("expected %d buckets, got %d", HistogramBucketCount, len(buckets))
	}
	for i, n := range buckets {
		if n != 1 {
			t.Fatalf("bucket %d: expected 1, got %d", i, n)
		}
	}
}

func TestLatencyNeedsMetricsEnabled(t *testing.T) {
	m := New(Config{Enabled: false, EnableLatencyHistograms: true})
	if m.LatencyEnabled() {
		t.Fatal("latency requires metrics to be enabled")
	}
}

func TestSnapshotOmitsHistogramSlotFromCounters(t *testing.T) {
	m := New(Config{Enabled: true})
	m.Inc(AutoLoginSuccess)

	snap := m.Snapshot()
	if _, ok := snap.Counters[AutoLoginLatency]; ok {
		t.Fatal("latency slot is not a counter")
	}
	if len(snap.Counters) != Count-1 {
		t.Fatalf("expected %d counters, got %d", Count-1, len(snap.Counters))
	}
	if snap.Counters[AutoLoginSuccess] != 1 {
		t.Fatal("expected counter in snapshot")
	}
	if _, ok := snap.Histograms[AutoLoginLatency]; ok {
		t.Fatal("histogram should be absent when latency is disabled")
	}
}
