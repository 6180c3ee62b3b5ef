package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepository работает с рабочей копией состояния транзакции.
type orderRepository struct {
	st *state
}

// Create сохраняет заказ и проставляет ID заказа и позиций.
func (r orderRepository) Create(_ context.Context, order *domain.Order) error {
	if _, exists := r.st.numbers[order.Number]; exists {
		return domain.ErrOrderNumberConflict
	}

	r.st.nextOrderID++
	order.ID = r.st.nextOrderID
	for i := range order.Lines {
		r.st.nextLineID++
		order.Lines[i].ID = r.st.nextLineID
		order.Lines[i].OrderID = order.ID
	}

	r.st.orders[order.ID] = order.Clone()
	r.st.numbers[order.Number] = order.ID
	return nil
}

func (r orderRepository) NumberExists(_ context.Context, number string) (bool, error) {
	_, ok := r.st.numbers[number]
	return ok, nil
}

func (r orderRepository) Get(_ context.Context, id int64) (domain.Order, error) {
	order, ok := r.st.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// GetForUpdate совпадает с Get: транзакции и так сериализованы.
func (r orderRepository) GetForUpdate(ctx context.Context, id int64) (domain.Order, error) {
	return r.Get(ctx, id)
}

func (r orderRepository) GetByNumberForUpdate(ctx context.Context, number string) (domain.Order, error) {
	id, ok := r.st.numbers[number]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.Get(ctx, id)
}

// Update переписывает изменяемые поля, позиции остаются прежними.
func (r orderRepository) Update(_ context.Context, order domain.Order) error {
	current, ok := r.st.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	updated := order.Clone()
	updated.Lines = current.Lines
	r.st.orders[order.ID] = updated
	return nil
}

func (r orderRepository) ListByCustomer(_ context.Context, customerID uuid.UUID, limit int) ([]domain.OrderSummary, error) {
	return r.list(func(o domain.Order) bool { return o.CustomerID == customerID }, limit), nil
}

func (r orderRepository) List(_ context.Context, status *domain.OrderStatus, limit int) ([]domain.OrderSummary, error) {
	return r.list(func(o domain.Order) bool { return status == nil || o.Status == *status }, limit), nil
}

func (r orderRepository) list(match func(domain.Order) bool, limit int) []domain.OrderSummary {
	result := make([]domain.OrderSummary, 0)
	for _, order := range r.st.orders {
		if match(order) {
			result = append(result, order.Summary())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].PlacedAt.Equal(result[j].PlacedAt) {
			return result[i].PlacedAt.After(result[j].PlacedAt)
		}
		return result[i].OrderID > result[j].OrderID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

var _ domain.OrderRepository = orderRepository{}
