// gostore-cart/metrics/metrics.go

// Package metrics exposes prometheus collectors for the cart and the HTTP handler serving them.
package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/norun9/gostore-cart/cart"
)

const namespace = "gostore"

// Recorder holds the cart collectors.
type Recorder struct {
	lines     prometheus.Gauge
	quantity  prometheus.Gauge
	mutations *prometheus.CounterVec
	persists  *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		lines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "lines",
			Help:      "Number of distinct items in the cart.",
		}),
		quantity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "quantity",
			Help:      "Total number of units in the cart.",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "mutations_total",
			Help:      "Cart mutations served, by operation.",
		}, []string{"op"}),
		persists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "persist_total",
			Help:      "Completed writes of the cart to storage, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(r.lines, r.quantity, r.mutations, r.persists)
	return r
}

func (r *Recorder) ObserveMutation(op string) {
	r.mutations.WithLabelValues(op).Inc()
}

// ObservePersist has the signature of a cart persist hook.
func (r *Recorder) ObservePersist(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.persists.WithLabelValues(result).Inc()
}

func (r *Recorder) ObserveCart(items []cart.Item) {
	units, _ := cart.Total(items)
	r.lines.Set(float64(len(items)))
	r.quantity.Set(float64(units))
}

// Watch updates the cart gauges from a cart subscription until it is closed.
func (r *Recorder) Watch(updates <-chan []cart.Item) {
	for items := range updates {
		r.ObserveCart(items)
	}
}

// Handler serves /metrics from g and /healthz from ready.
func Handler(g prometheus.Gatherer, ready func() bool) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Recoverer, middleware.NoCache)

	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet, http.MethodHead)
	return r
}
