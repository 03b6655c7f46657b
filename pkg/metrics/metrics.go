package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markus-lassfolk/trackhub/pkg/hub"
)

const namespace = "trackhub"

var _ hub.Recorder = (*Collector)(nil)

// Collector exports hub instrumentation as Prometheus metrics
type Collector struct {
	registry *prometheus.Registry

	eventsDelivered *prometheus.CounterVec
	resamples       prometheus.Counter
	stride          prometheus.Gauge
	scans           *prometheus.CounterVec
	scannedPoints   prometheus.Counter
	subscribers     prometheus.Gauge
	queueDepth      prometheus.Gauge
}

// NewCollector creates a collector on its own registry, including the Go
// runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Subscriber callbacks delivered, by event.",
		}, []string{"event"}),
		resamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resamples_total",
			Help:      "Track point resampling passes after overflow.",
		}),
		stride: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampling_stride",
			Help:      "Stride of the last resampling pass.",
		}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "point_scans_total",
			Help:      "Track point scan passes, by result.",
		}, []string{"result"}),
		scannedPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scanned_points_total",
			Help:      "Stored track points read by scan passes.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Registered subscribers.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_queue_depth",
			Help:      "Pending notification tasks at the last post.",
		}),
	}

	c.registry.MustRegister(
		c.eventsDelivered,
		c.resamples,
		c.stride,
		c.scans,
		c.scannedPoints,
		c.subscribers,
		c.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) EventsDelivered(event string, subscribers int) {
	c.eventsDelivered.WithLabelValues(event).Add(float64(subscribers))
}

func (c *Collector) Resampled(stride int) {
	c.resamples.Inc()
	c.stride.Set(float64(stride))
}

func (c *Collector) ScanFinished(result string, points int) {
	c.scans.WithLabelValues(result).Inc()
	c.scannedPoints.Add(float64(points))
}

func (c *Collector) SubscribersChanged(n int) { c.subscribers.Set(float64(n)) }
func (c *Collector) QueueDepth(n int)         { c.queueDepth.Set(float64(n)) }

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
