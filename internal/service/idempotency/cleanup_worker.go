// Package idempotency обслуживает ключи идемпотентности оформления заказов.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	defaultMaxBatches       = 100
)

type cleanupMetrics struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

func newCleanupMetrics(registerer prometheus.Registerer) *cleanupMetrics {
	return &cleanupMetrics{
		runs: metrics.Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result.",
		}, []string{"result"})),
		deleted: metrics.Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records.",
		})),
		lastDeleted: metrics.Register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run.",
		})),
	}
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval задаёт паузу между запусками очистки.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задаёт число ключей, удаляемых одним запросом.
func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxBatches ограничивает число порций за один запуск; остаток
// удалится на следующем тике.
func WithMaxBatches(n int) CleanupOption {
	return func(w *CleanupWorker) {
		if n > 0 {
			w.maxBatches = n
		}
	}
}

// WithRegisterer задаёт реестр метрик; по умолчанию prometheus.DefaultRegisterer.
func WithRegisterer(registerer prometheus.Registerer) CleanupOption {
	return func(w *CleanupWorker) {
		if registerer != nil {
			w.registerer = registerer
		}
	}
}

// WithClock подменяет часы, по которым определяется просрочка.
func WithClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// Sweep: итог одного прохода очистки.
type Sweep struct {
	Deleted int
	Batches int
	// Truncated выставляется, когда проход упёрся в лимит порций.
	Truncated bool
}

// CleanupWorker периодически удаляет просроченные ключи оформления заказов,
// после чего клиент может переиспользовать ключ.
type CleanupWorker struct {
	repo       domain.IdempotencyRepository
	logger     *log.Entry
	interval   time.Duration
	batchSize  int
	maxBatches int
	registerer prometheus.Registerer
	metrics    *cleanupMetrics
	now        func() time.Time
}

// NewCleanupWorker создаёт воркер очистки ключей идемпотентности.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:       repo,
		logger:     log.WithField("component", "idempotency-cleanup-worker"),
		interval:   defaultCleanupInterval,
		batchSize:  defaultCleanupBatchSize,
		maxBatches: defaultMaxBatches,
		registerer: prometheus.DefaultRegisterer,
		now:        time.Now,
	}
	for _, option := range options {
		option(w)
	}
	w.metrics = newCleanupMetrics(w.registerer)
	return w
}

// Run чистит ключи сразу и затем по таймеру до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	sweep, err := w.DeleteExpired(ctx, w.now().UTC())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		w.metrics.runs.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("deleted", sweep.Deleted).Warn("idempotency cleanup run failed")
		return
	}

	w.metrics.runs.WithLabelValues("ok").Inc()
	w.metrics.lastDeleted.Set(float64(sweep.Deleted))
	entry := w.logger.WithFields(log.Fields{"deleted": sweep.Deleted, "batches": sweep.Batches})
	switch {
	case sweep.Truncated:
		entry.Info("idempotency cleanup hit batch limit, rest is left for the next run")
	case sweep.Deleted > 0:
		entry.Info("idempotency cleanup completed")
	}
}

// DeleteExpired удаляет ключи с истёкшим сроком на момент before порциями
// batchSize, не больше maxBatches порций за вызов. Нулевое before
// заменяется текущим временем.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (Sweep, error) {
	if before.IsZero() {
		before = w.now().UTC()
	}

	var sweep Sweep
	for sweep.Batches < w.maxBatches {
		if err := ctx.Err(); err != nil {
			return sweep, err
		}

		deleted, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return sweep, fmt.Errorf("delete expired idempotency keys: %w", err)
		}
		sweep.Batches++
		sweep.Deleted += deleted
		w.metrics.deleted.Add(float64(deleted))

		if deleted < w.batchSize {
			return sweep, nil
		}
	}
	sweep.Truncated = true
	return sweep, nil
}
