package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 30 * time.Second
)

// workerMetrics: метрики relay. Повторная регистрация переиспользует
// уже зарегистрированные коллекторы.
type workerMetrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	failedRecords    prometheus.Gauge
	oldestPendingAge prometheus.Gauge
	deferred         prometheus.Counter
}

func newWorkerMetrics(registerer prometheus.Registerer) *workerMetrics {
	return &workerMetrics{
		publishAttempts: metrics.Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"})),
		pendingRecords: metrics.Register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		})),
		failedRecords: metrics.Register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_outbox_failed_records",
			Help: "Outbox records that exhausted publish attempts.",
		})),
		oldestPendingAge: metrics.Register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		})),
		deferred: metrics.Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_outbox_deferred_total",
			Help: "Outbox records postponed because an earlier event of the same order failed.",
		})),
	}
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт publisher для событий, не доставленных после всех попыток.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) {
		w.dlqPublisher = publisher
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(w *Worker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации перед failed/DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) {
		if maxAttempts > 0 {
			w.maxAttempts = maxAttempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу экспоненциального backoff; 0 отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) {
		w.retryBaseDelay = max(delay, 0)
	}
}

// WithRegisterer задаёт реестр метрик; по умолчанию prometheus.DefaultRegisterer.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(w *Worker) {
		if registerer != nil {
			w.registerer = registerer
		}
	}
}

// WithClock подменяет часы для возраста backlog и отметок DLQ.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// CycleReport: итог одного цикла опроса.
type CycleReport struct {
	Pulled   int
	Sent     int
	Failed   int
	Deferred int
}

// Worker публикует события заказов из outbox в брокер.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlqPublisher   domain.OutboxPublisher
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	registerer     prometheus.Registerer
	metrics        *workerMetrics
	now            func() time.Time
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		logger:         log.WithField("component", "outbox-worker"),
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		registerer:     prometheus.DefaultRegisterer,
		now:            time.Now,
	}
	for _, option := range options {
		option(w)
	}
	w.metrics = newWorkerMetrics(w.registerer)
	return w
}

// Run запускает периодический polling outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл. События одного заказа уходят в
// порядке записи: после сбоя остальные события этого заказа в цикле
// откладываются до следующего опроса.
func (w *Worker) ProcessOnce(ctx context.Context) CycleReport {
	var report CycleReport
	if ctx.Err() != nil {
		return report
	}

	w.refreshBacklogMetrics(ctx)

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return report
	}
	report.Pulled = len(events)
	if len(events) == 0 {
		return report
	}

	blocked := make(map[string]struct{})
	for _, event := range events {
		if ctx.Err() != nil {
			return report
		}
		key := event.AggregateType + "/" + event.AggregateID
		if _, ok := blocked[key]; ok {
			report.Deferred++
			w.metrics.deferred.Inc()
			continue
		}

		if err := w.deliver(ctx, event); err != nil {
			if ctx.Err() != nil {
				return report
			}
			blocked[key] = struct{}{}
			report.Failed++
			continue
		}
		report.Sent++
	}

	w.refreshBacklogMetrics(ctx)
	if report.Failed > 0 || report.Deferred > 0 {
		w.logger.WithFields(log.Fields{
			"pulled":   report.Pulled,
			"sent":     report.Sent,
			"failed":   report.Failed,
			"deferred": report.Deferred,
		}).Warn("outbox cycle finished with failures")
	}
	return report
}

// deliver публикует событие с повторами, а после исчерпания попыток
// отправляет его в DLQ и помечает failed.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) error {
	logger := w.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	})

	publishErr := w.publishWithRetry(ctx, event)
	if publishErr == nil {
		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			logger.WithError(err).Warn("failed to mark outbox as sent")
		}
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	logger.WithError(publishErr).Error("outbox publish failed after retries")
	w.metrics.publishAttempts.WithLabelValues("failed").Inc()
	if err := w.publishToDLQ(ctx, event, publishErr); err != nil {
		logger.WithError(err).Warn("failed to publish to DLQ")
		w.metrics.publishAttempts.WithLabelValues("dlq_failed").Inc()
	}
	if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
		logger.WithError(err).Warn("failed to mark outbox as failed")
	}
	return publishErr
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	err := backoff.Retry(func() error {
		if err := w.publisher.Publish(ctx, event); err != nil {
			w.metrics.publishAttempts.WithLabelValues("retry_error").Inc()
			return err
		}
		w.metrics.publishAttempts.WithLabelValues("sent").Inc()
		return nil
	}, w.retryPolicy(ctx))
	if err != nil {
		return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, err)
	}
	return nil
}

// retryPolicy: экспоненциальные паузы base, 2*base, 4*base... без джиттера,
// не больше maxAttempts попыток всего.
func (w *Worker) retryPolicy(ctx context.Context) backoff.BackOff {
	var policy backoff.BackOff = &backoff.ZeroBackOff{}
	if w.retryBaseDelay > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = w.retryBaseDelay
		exp.Multiplier = 2
		exp.RandomizationFactor = 0
		exp.MaxInterval = maxRetryDelay
		exp.MaxElapsedTime = 0
		policy = exp
	}
	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(w.maxAttempts-1)), ctx)
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	w.metrics.pendingRecords.Set(float64(stats.PendingCount))
	w.metrics.failedRecords.Set(float64(stats.FailedCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		w.metrics.oldestPendingAge.Set(0)
		return
	}
	w.metrics.oldestPendingAge.Set(max(w.now().Sub(stats.OldestPendingAt).Seconds(), 0))
}

// deadLetter: конверт сообщения, не доставленного после всех попыток.
type deadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	Attempts       int             `json:"attempts"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

func (w *Worker) publishToDLQ(ctx context.Context, event domain.OutboxMessage, publishErr error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(deadLetter{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(event.Payload),
		PublishError:   publishErr.Error(),
		Attempts:       w.maxAttempts,
		DLQPublishedAt: w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dlqEvent := domain.OutboxMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
	}
	if err := w.dlqPublisher.Publish(ctx, dlqEvent); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}

	return nil
}
