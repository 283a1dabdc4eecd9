package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

var (
	registerOnce sync.Once

	refsAdded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refspace",
			Subsystem: "store",
			Name:      "refs_added_total",
			Help:      "Entities inserted into the reference table.",
		},
		[]string{"store", "kind"},
	)
	callsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refspace",
			Subsystem: "store",
			Name:      "calls_sent_total",
			Help:      "Call messages dispatched to remote peers.",
		},
		[]string{"store", "peer"},
	)
	peersAdded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refspace",
			Subsystem: "store",
			Name:      "peers_added_total",
			Help:      "Peer transports registered.",
		},
		[]string{"store"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refspace",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "refspace",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(refsAdded, callsSent, peersAdded, httpRequests, httpDuration)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// StoreMetrics is a refspace.Listener that counts store notifications.
type StoreMetrics struct {
	store string
}

// NewStoreMetrics registers the collectors and returns a listener labelled with storeID.
func NewStoreMetrics(storeID string) *StoreMetrics {
	RegisterMetrics()
	return &StoreMetrics{store: storeID}
}

func (m *StoreMetrics) OnAdd(desc refspace.Descriptor) {
	refsAdded.WithLabelValues(m.store, string(desc.Kind)).Inc()
}

func (m *StoreMetrics) OnCall(msg *refspace.CallMessage) {
	callsSent.WithLabelValues(m.store, msg.Ref.Peer).Inc()
}

func (m *StoreMetrics) OnPeer(peerID string) {
	peersAdded.WithLabelValues(m.store).Inc()
}

var _ refspace.Listener = (*StoreMetrics)(nil)
