package shipping

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// LogEventLog пишет события перевозчиков в структурированный лог.
// Используется, когда Kafka не настроена.
type LogEventLog struct {
	logger *log.Entry
}

func NewLogEventLog(logger *log.Entry) *LogEventLog {
	if logger == nil {
		logger = log.WithField("component", "shipping-event-log")
	}
	return &LogEventLog{logger: logger}
}

func (l *LogEventLog) Record(_ context.Context, event domain.ShippingEvent) error {
	l.logger.WithFields(log.Fields{
		"carrier":         event.CarrierCode,
		"tracking_number": event.TrackingNumber,
		"order_number":    event.OrderNumber,
		"status":          event.Status,
		"event_time":      event.EventTime,
		"note":            event.Note,
	}).Info("carrier event recorded")
	return nil
}

var _ domain.ShippingEventLog = (*LogEventLog)(nil)
