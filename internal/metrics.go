package internal

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

var TotalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "entitydb_requests_total",
	Help: "The total number of create calls by operation and outcome",
}, []string{"op", "outcome"})

var RowsInserted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "entitydb_rows_inserted_total",
	Help: "The total number of rows inserted",
})

var RowsSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "entitydb_rows_skipped_total",
	Help: "The total number of batch rows skipped as duplicates",
})

var RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "entitydb_request_duration_seconds",
	Help:    "The duration of create calls including the transaction",
	Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
}, []string{"op"})

var BackendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "entitydb_backend_duration_seconds",
	Help:    "The duration of backend operations",
	Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
}, []string{"backend", "op"})

var BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "entitydb_batch_size",
	Help:    "The number of rows submitted per batch",
	Buckets: []float64{1, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
})

// SystemStats contains the metrics and system stats
type SystemStats struct {
	Metrics struct {
		Requests        float64 `json:"requests" msgpack:"requests"`
		RowsInserted    float64 `json:"rowsInserted" msgpack:"rowsInserted"`
		RowsSkipped     float64 `json:"rowsSkipped" msgpack:"rowsSkipped"`
		RequestDuration float64 `json:"requestDuration" msgpack:"requestDuration"`
		BackendDuration float64 `json:"backendDuration" msgpack:"backendDuration"`
	} `json:"metrics" msgpack:"metrics"`
	Memory *mem.VirtualMemoryStat `json:"memory" msgpack:"memory"`
	Load   *load.AvgStat          `json:"load" msgpack:"load"`
}

// collect calls the function for each metric associated with the Collector
func collect(col prometheus.Collector, do func(*dto.Metric)) {
	c := make(chan prometheus.Metric)
	go func(c chan prometheus.Metric) {
		col.Collect(c)
		close(c)
	}(c)
	for x := range c { // eg range across distinct label vector values
		m := dto.Metric{}
		_ = x.Write(&m)
		do(&m)
	}
}

// getMetricValue returns the sum of the Counter metrics associated with the Collector
// e.g. the metric for a non-vector, or the sum of the metrics for vector labels.
// If the metric is a Histogram then number of samples is used.
func getMetricValue(col prometheus.Collector) float64 {
	var total float64
	collect(col, func(m *dto.Metric) {
		if h := m.GetHistogram(); h != nil {
			total += float64(h.GetSampleCount())
		} else {
			total += m.GetCounter().GetValue()
		}
	})
	return total
}

// GetSystemStats returns a snapshot of the system stats
func GetSystemStats() (*SystemStats, error) {
	var s SystemStats
	var err error
	s.Metrics.Requests = getMetricValue(TotalRequests)
	s.Metrics.RowsInserted = getMetricValue(RowsInserted)
	s.Metrics.RowsSkipped = getMetricValue(RowsSkipped)
	s.Metrics.RequestDuration = getMetricValue(RequestDuration)
	s.Metrics.BackendDuration = getMetricValue(BackendDuration)
	s.Memory, err = mem.VirtualMemory()
	if err != nil {
		return nil, err
	}
	s.Load, err = load.Avg()
	return &s, err
}

type instrumentedBackend struct {
	Backend
	name string
}

func (b *instrumentedBackend) Begin(ctx context.Context) (Txn, error) {
	started := time.Now()
	txn, err := b.Backend.Begin(ctx)
	b.observe("begin", started)
	if err != nil {
		return nil, err
	}
	return &instrumentedTxn{txn: txn, backend: b}, nil
}

func (b *instrumentedBackend) observe(op string, started time.Time) {
	BackendDuration.WithLabelValues(b.name, op).Observe(time.Since(started).Seconds())
}

type instrumentedTxn struct {
	txn     Txn
	backend *instrumentedBackend
}

var _ Txn = (*instrumentedTxn)(nil)

func (t *instrumentedTxn) Commit() error {
	defer t.backend.observe("commit", time.Now())
	return t.txn.Commit()
}

func (t *instrumentedTxn) Rollback() error {
	defer t.backend.observe("rollback", time.Now())
	return t.txn.Rollback()
}

func (t *instrumentedTxn) InsertRow(ctx context.Context, entity *EntityType, values map[string]any) (any, error) {
	defer t.backend.observe("insert", time.Now())
	return t.txn.InsertRow(ctx, entity, values)
}

func (t *instrumentedTxn) UpdateForeignKey(ctx context.Context, entity *EntityType, pk any, field string, value any) error {
	defer t.backend.observe("update_fk", time.Now())
	return t.txn.UpdateForeignKey(ctx, entity, pk, field, value)
}

func (t *instrumentedTxn) LookupByPrimaryKey(ctx context.Context, entity *EntityType, pk any) (*Row, error) {
	defer t.backend.observe("lookup", time.Now())
	return t.txn.LookupByPrimaryKey(ctx, entity, pk)
}

func (t *instrumentedTxn) InsertBatch(ctx context.Context, entity *EntityType, rows []map[string]any, onConflict OnConflict) ([]any, error) {
	defer t.backend.observe("insert_batch", time.Now())
	return t.txn.InsertBatch(ctx, entity, rows, onConflict)
}
