package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// timelineRepository хранит историю заказа в рабочей копии состояния.
type timelineRepository struct {
	st *state
}

// Append добавляет событие, сохраняя хронологический порядок.
func (r timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	events := append(r.st.timeline[event.OrderID], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	r.st.timeline[event.OrderID] = events
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r timelineRepository) List(_ context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	events := r.st.timeline[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = timelineRepository{}
