package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type timelineRepository struct {
	q queryer
}

func (r timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO order_timeline (order_id, type, reason, occurred_at)
		VALUES ($1,$2,$3,$4)
	`, event.OrderID, event.Type, event.Reason, event.Occurred); err != nil {
		return fmt.Errorf("insert timeline event: %w", err)
	}
	return nil
}

func (r timelineRepository) List(ctx context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT order_id, type, reason, occurred_at
		FROM order_timeline
		WHERE order_id = $1
		ORDER BY occurred_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var ev domain.TimelineEvent
		if err := rows.Scan(&ev.OrderID, &ev.Type, &ev.Reason, &ev.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		ev.Occurred = ev.Occurred.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline rows: %w", err)
	}
	return events, nil
}

var _ domain.TimelineRepository = timelineRepository{}
