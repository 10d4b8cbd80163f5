package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"nftsales/internal/application"
	"nftsales/internal/streaming"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics observes the engine, the publisher and the Kafka consumer loop.
type Metrics struct {
	registry *prometheus.Registry

	latestBlock     prometheus.Gauge
	lastProcessed   prometheus.Gauge
	pendingTables   prometheus.Gauge
	transfers       *prometheus.CounterVec
	published       prometheus.Counter
	sales           *prometheus.CounterVec
	deletedTables   *prometheus.CounterVec
	skippedMessages prometheus.Counter
	kafkaMessages   *prometheus.CounterVec
	kafkaErrors     *prometheus.CounterVec
	kafkaMessageLag prometheus.Gauge
	kafkaLastOffset *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		latestBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nftsales_latest_block",
			Help: "Latest block reported by the RPC node.",
		}),
		lastProcessed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nftsales_last_processed_block",
			Help: "Last block published or finalized.",
		}),
		pendingTables: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nftsales_pending_lookup_tables",
			Help: "Lookup tables awaiting finalization.",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nftsales_transfers_recorded_total",
			Help: "Transfers recorded by kind.",
		}, []string{"kind"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nftsales_transfers_published_total",
			Help: "Transfer messages published by the ordering process.",
		}),
		sales: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nftsales_sales_total",
			Help: "Sales created by settlement path.",
		}, []string{"path"}),
		deletedTables: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nftsales_lookup_tables_deleted_total",
			Help: "Lookup tables rejected by the matcher.",
		}, []string{"reason"}),
		skippedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nftsales_messages_skipped_total",
			Help: "Replayed stream messages dropped by the cursor.",
		}),
		kafkaMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nftsales_kafka_messages_total",
			Help: "Kafka messages consumed per topic.",
		}, []string{"topic"}),
		kafkaErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nftsales_kafka_errors_total",
			Help: "Kafka consumer errors by stage.",
		}, []string{"stage"}),
		kafkaMessageLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nftsales_kafka_message_lag_seconds",
			Help: "Age of the last consumed message.",
		}),
		kafkaLastOffset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nftsales_kafka_last_offset",
			Help: "Last consumed offset per topic and partition.",
		}, []string{"topic", "partition"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.latestBlock,
		m.lastProcessed,
		m.pendingTables,
		m.transfers,
		m.published,
		m.sales,
		m.deletedTables,
		m.skippedMessages,
		m.kafkaMessages,
		m.kafkaErrors,
		m.kafkaMessageLag,
		m.kafkaLastOffset,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) OnLatestBlock(block uint64) {
	m.latestBlock.Set(float64(block))
}

func (m *Metrics) OnBatchProcessed(fromBlock, toBlock uint64, transferCount int) {
	m.lastProcessed.Set(float64(toBlock))
	m.published.Add(float64(transferCount))
}

func (m *Metrics) OnTransferRecorded(kind streaming.MessageType, result application.RecordResult) {
	m.transfers.WithLabelValues(string(kind)).Inc()
	if result.Sale != nil {
		m.sales.WithLabelValues("native").Inc()
	}
	if result.Deferred {
		m.pendingTables.Inc()
	}
}

func (m *Metrics) OnBlockFinalized(result application.FinalizeResult) {
	m.lastProcessed.Set(float64(result.BlockNumber))
	m.pendingTables.Set(float64(result.Retained))
	m.sales.WithLabelValues("matched").Add(float64(len(result.Matched)))
	for reason, count := range result.Deleted {
		m.deletedTables.WithLabelValues(string(reason)).Add(float64(count))
	}
}

func (m *Metrics) OnMessageSkipped(msg streaming.Message) {
	m.skippedMessages.Inc()
}

func (m *Metrics) SetPending(count int) {
	m.pendingTables.Set(float64(count))
}

func (m *Metrics) IncKafkaFetchErr()  { m.kafkaErrors.WithLabelValues("fetch").Inc() }
func (m *Metrics) IncKafkaDecodeErr() { m.kafkaErrors.WithLabelValues("decode").Inc() }
func (m *Metrics) IncKafkaApplyErr()  { m.kafkaErrors.WithLabelValues("apply").Inc() }
func (m *Metrics) IncKafkaCommitErr() { m.kafkaErrors.WithLabelValues("commit").Inc() }

func (m *Metrics) ObserveKafkaMessage(topic string, partition int, offset int64, ts time.Time) {
	m.kafkaMessages.WithLabelValues(topic).Inc()
	m.kafkaLastOffset.WithLabelValues(topic, strconv.Itoa(partition)).Set(float64(offset))
	if !ts.IsZero() {
		m.kafkaMessageLag.Set(time.Since(ts).Seconds())
	}
}
