package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "User messages persisted by the ledger.",
	})

	EventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_broadcast_total",
		Help: "Realtime events fanned out, by event name.",
	}, []string{"event"})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Currently open websocket connections.",
	})
)

// Handler returns an http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
