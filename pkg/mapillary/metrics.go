package mapillary

import "github.com/prometheus/client_golang/prometheus"

type clientMetrics struct {
	requests   *prometheus.CounterVec
	tiles      prometheus.Counter
	duplicates prometheus.Counter
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	if reg == nil {
		return nil
	}
	m := &clientMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapillary_api_requests_total",
				Help: "Metadata API requests by outcome.",
			},
			[]string{"outcome"},
		),
		tiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mapillary_tiles_fetched_total",
			Help: "Tiles fetched during tiled queries.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mapillary_duplicate_records_total",
			Help: "Records dropped by cross-tile de-duplication.",
		}),
	}
	reg.MustRegister(m.requests, m.tiles, m.duplicates)
	return m
}

func (m *clientMetrics) incRequest(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *clientMetrics) incTile() {
	if m == nil {
		return
	}
	m.tiles.Inc()
}

func (m *clientMetrics) addDuplicates(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.duplicates.Add(float64(n))
}
