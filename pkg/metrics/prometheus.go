package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus is a MetricsSink backed by client_golang vectors, lazily
// created per (name, label-key-set) the first time a caller uses them —
// callers are internal and always pass a stable label-key-set per name, so
// this never grows unbounded.
type Prometheus struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheus creates a sink registered against its own registry (callers
// expose it over HTTP with promhttp.HandlerFor(reg, ...) from cmd/).
func NewPrometheus() *Prometheus {
	return &Prometheus{
		reg:        prometheus.NewRegistry(),
		counters:   map[string]*prometheus.CounterVec{},
		gauges:     map[string]*prometheus.GaugeVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
}

func (p *Prometheus) Registry() *prometheus.Registry { return p.reg }

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func vecKey(name string, keys []string) string {
	return name + "|" + strings.Join(keys, ",")
}

func (p *Prometheus) IncCounter(name string, labels map[string]string) {
	keys := labelKeys(labels)
	p.mu.Lock()
	cv, ok := p.counters[vecKey(name, keys)]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liquidator_" + name + "_total",
			Help: name + " counter",
		}, keys)
		p.reg.MustRegister(cv)
		p.counters[vecKey(name, keys)] = cv
	}
	p.mu.Unlock()
	cv.With(labels).Inc()
}

func (p *Prometheus) SetGauge(name string, labels map[string]string, value float64) {
	keys := labelKeys(labels)
	p.mu.Lock()
	gv, ok := p.gauges[vecKey(name, keys)]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liquidator_" + name,
			Help: name + " gauge",
		}, keys)
		p.reg.MustRegister(gv)
		p.gauges[vecKey(name, keys)] = gv
	}
	p.mu.Unlock()
	gv.With(labels).Set(value)
}

func (p *Prometheus) ObserveLatency(name string, labels map[string]string, seconds float64) {
	keys := labelKeys(labels)
	p.mu.Lock()
	hv, ok := p.histograms[vecKey(name, keys)]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "liquidator_" + name,
			Help:    name + " latency seconds",
			Buckets: prometheus.DefBuckets,
		}, keys)
		p.reg.MustRegister(hv)
		p.histograms[vecKey(name, keys)] = hv
	}
	p.mu.Unlock()
	hv.With(labels).Observe(seconds)
}
