package httpserver

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/regsampler/internal/sampler"
)

var runStates = []sampler.State{sampler.StateRunning, sampler.StateTerminating, sampler.StateFinished}

type runMetricsCollector struct {
	run     RunStatus
	runID   string
	metrics []runMetric
	state   *prometheus.Desc
}

type runMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	extract   func(stats sampler.Stats) float64
}

func newRunMetricsCollector(runID string, run RunStatus) prometheus.Collector {
	if run == nil {
		return nil
	}

	collector := &runMetricsCollector{
		run:   run,
		runID: runID,
	}

	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("regsampler", "run", name),
			help,
			append([]string{"run_id"}, labels...),
			nil,
		)
	}

	collector.state = desc("state", "Current run state (1 for the active state).", "state")
	collector.metrics = []runMetric{
		{
			desc:      desc("events_total", "Instructions counted by the sampler."),
			valueType: prometheus.CounterValue,
			extract:   func(stats sampler.Stats) float64 { return float64(stats.Events) },
		},
		{
			desc:      desc("samples_total", "Register samples recorded."),
			valueType: prometheus.CounterValue,
			extract:   func(stats sampler.Stats) float64 { return float64(stats.Samples) },
		},
		{
			desc:      desc("flushes_total", "Automatic output buffer flushes."),
			valueType: prometheus.CounterValue,
			extract:   func(stats sampler.Stats) float64 { return float64(stats.Flushes) },
		},
		{
			desc:      desc("buffered_records", "Records waiting in the output buffer."),
			valueType: prometheus.GaugeValue,
			extract:   func(stats sampler.Stats) float64 { return float64(stats.Buffered) },
		},
		{
			desc:      desc("buffer_capacity", "Records held before an automatic flush."),
			valueType: prometheus.GaugeValue,
			extract:   func(stats sampler.Stats) float64 { return float64(stats.Capacity) },
		},
		{
			desc:      desc("interval", "Sampling stride in instructions."),
			valueType: prometheus.GaugeValue,
			extract:   func(stats sampler.Stats) float64 { return float64(stats.Interval) },
		},
	}

	return collector
}

func (c *runMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

func (c *runMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.run.Stats()
	for _, metric := range c.metrics {
		ch <- prometheus.MustNewConstMetric(metric.desc, metric.valueType, metric.extract(stats), c.runID)
	}
	for _, state := range runStates {
		value := 0.0
		if stats.State == state {
			value = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, value, c.runID, state.String())
	}
}

func siteCollectors(siteStats SiteStats) []prometheus.Collector {
	if siteStats == nil {
		return nil
	}
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "regsampler",
			Subsystem: "sites",
			Name:      "entries",
			Help:      "Instruction sites held in the disassembly cache.",
		}, func() float64 {
			return float64(siteStats.Len())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "regsampler",
			Subsystem: "sites",
			Name:      "hits_total",
			Help:      "Disassembly lookups served from the cache.",
		}, func() float64 {
			return float64(siteStats.Hits())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "regsampler",
			Subsystem: "sites",
			Name:      "misses_total",
			Help:      "Disassembly lookups that decoded instruction bytes.",
		}, func() float64 {
			return float64(siteStats.Misses())
		}),
	}
}
