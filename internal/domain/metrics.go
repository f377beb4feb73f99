package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

// Lookup outcomes recorded by lookupsTotal.
const (
	outcomeDomain   = "domain"
	outcomeLegacy   = "legacy"
	outcomeMiss     = "miss"
	outcomeDisabled = "disabled"
)

var (
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixedstack",
		Name:      "lookups_total",
		Help:      "Address lookups by outcome (domain, legacy, miss, disabled).",
	}, []string{"outcome"})

	rebuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mixedstack",
		Name:      "rebuilds_total",
		Help:      "Successful index rebuilds.",
	})

	parseFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixedstack",
		Name:      "parse_failures_total",
		Help:      "Aborted rebuilds by error kind (format, version, filesystem, other).",
	}, []string{"kind"})

	indexedRanges = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mixedstack",
		Name:      "indexed_ranges",
		Help:      "Ranges held by a process session, by index kind (current, legacy).",
	}, []string{"pid", "kind"})
)

func recordIndexedRanges(pid, current, legacy int) {
	label := strconv.Itoa(pid)
	indexedRanges.WithLabelValues(label, "current").Set(float64(current))
	indexedRanges.WithLabelValues(label, "legacy").Set(float64(legacy))
}

// forgetIndexedRanges drops the gauges of pid once its indexes are gone.
func forgetIndexedRanges(pid int) {
	indexedRanges.DeletePartialMatch(prometheus.Labels{"pid": strconv.Itoa(pid)})
}

const metricsPrefix = "mixedstack_"

// Stats returns the current value of every resolver metric registered with
// the default Prometheus registry.
func Stats() ([]m.Stat, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	var stats []m.Stat

	for _, family := range families {
		if !strings.HasPrefix(family.GetName(), metricsPrefix) {
			continue
		}

		for _, metric := range family.GetMetric() {
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, pair := range metric.GetLabel() {
				labels = append(labels, pair.GetName()+"="+pair.GetValue())
			}

			value := metric.GetCounter().GetValue()
			if metric.GetGauge() != nil {
				value = metric.GetGauge().GetValue()
			}

			stats = append(stats, m.Stat{
				Name:   family.GetName(),
				Labels: strings.Join(labels, ","),
				Value:  value,
			})
		}
	}

	return stats, nil
}
