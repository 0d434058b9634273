package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/domain"
)

const namespace = "orchestrator"

var latencyBuckets = []float64{
	0.001, 0.002, 0.005,
	0.01, 0.02, 0.05,
	0.1, 0.2, 0.5,
	1, 2, 5, 10,
}

// StatusCounter is the part of the event store the status gauges read from
type StatusCounter interface {
	CountByStatus(ctx context.Context, status domain.Status) (int64, error)
}

// Collector owns every pipeline metric
type Collector struct {
	received         prometheus.Counter
	processed        prometheus.Counter
	processingErrors prometheus.Counter
	published        prometheus.Counter
	publishErrors    prometheus.Counter

	consumerLatency   prometheus.Histogram
	processingLatency prometheus.Histogram
	publishingLatency prometheus.Histogram
	endToEndLatency   prometheus.Histogram

	maintenanceRuns     *prometheus.CounterVec
	maintenanceAffected *prometheus.CounterVec

	factory promauto.Factory
	log     *zap.Logger
}

// NewCollector registers the pipeline metrics with reg
func NewCollector(reg prometheus.Registerer, strategy domain.Strategy, log *zap.Logger) *Collector {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"strategy": string(strategy)}

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	histogram := func(name, help string) prometheus.Histogram {
		return factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
			Buckets:   latencyBuckets,
		})
	}

	return &Collector{
		received:          counter("events_received_total", "Inbound records handed to the dispatcher."),
		processed:         counter("events_processed_total", "Inbound records whose local strategy portion completed."),
		processingErrors:  counter("processing_errors_total", "Store writes and transforms that failed."),
		published:         counter("events_published_total", "Payloads confirmed by the outbound transport."),
		publishErrors:     counter("publish_errors_total", "Payloads that failed after all publish attempts."),
		consumerLatency:   histogram("consumer_latency_seconds", "Producer send time to arrival at the pipeline."),
		processingLatency: histogram("processing_latency_seconds", "Arrival to publish start."),
		publishingLatency: histogram("publishing_latency_seconds", "Publish start to broker acknowledgment."),
		endToEndLatency:   histogram("end_to_end_latency_seconds", "Producer send time to broker acknowledgment."),
		maintenanceRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Maintenance job executions.",
		}, []string{"job", "result"}),
		maintenanceAffected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_affected_events_total",
			Help:      "Events changed or deleted by maintenance jobs.",
		}, []string{"job"}),
		factory: factory,
		log:     log,
	}
}

// RegisterStatusGauges exposes pending and failed event counts read from the store at scrape time
func (c *Collector) RegisterStatusGauges(store StatusCounter, timeout time.Duration) {
	gauge := func(name, help string, status domain.Status) {
		c.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			n, err := store.CountByStatus(ctx, status)
			if err != nil {
				c.log.Warn("Failed to count events for gauge",
					zap.String("status", string(status)),
					zap.Error(err))
				return 0
			}
			return float64(n)
		})
	}

	gauge("pending_events", "Events still in RECEIVED state.", domain.StatusReceived)
	gauge("failed_events", "Events in FAILED state.", domain.StatusFailed)
}

func (c *Collector) IncReceived()         { c.received.Inc() }
func (c *Collector) IncProcessed()        { c.processed.Inc() }
func (c *Collector) IncProcessingErrors() { c.processingErrors.Inc() }
func (c *Collector) IncPublished()        { c.published.Inc() }
func (c *Collector) IncPublishErrors()    { c.publishErrors.Inc() }

func (c *Collector) ObserveConsumerLatency(d time.Duration) {
	c.consumerLatency.Observe(d.Seconds())
}

func (c *Collector) ObserveProcessingLatency(d time.Duration) {
	c.processingLatency.Observe(d.Seconds())
}

func (c *Collector) ObservePublishingLatency(d time.Duration) {
	c.publishingLatency.Observe(d.Seconds())
}

func (c *Collector) ObserveEndToEndLatency(d time.Duration) {
	c.endToEndLatency.Observe(d.Seconds())
}

// ObserveJob records one maintenance run
func (c *Collector) ObserveJob(job string, affected int64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.maintenanceRuns.WithLabelValues(job, result).Inc()
	if affected > 0 {
		c.maintenanceAffected.WithLabelValues(job).Add(float64(affected))
	}
}
