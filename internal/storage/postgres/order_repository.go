package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type orderRepository struct {
	q queryer
}

const orderColumns = `
	id, order_number, customer_id, email, phone,
	ship_name, ship_phone, ship_address, ship_province, ship_district, ship_ward, notes,
	status, payment_status, payment_method, voucher_code, carrier_code, tracking_number,
	subtotal, discount_total, shipping_fee, tax_total, grand_total,
	placed_at, confirmed_at, shipped_at, delivered_at, cancelled_at, updated_at`

const summaryColumns = `id, order_number, customer_id, email, phone, status, payment_status, grand_total, placed_at`

func (r orderRepository) Create(ctx context.Context, order *domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.q.QueryRowContext(ctx, `
		INSERT INTO orders (
			order_number, customer_id, email, phone,
			ship_name, ship_phone, ship_address, ship_province, ship_district, ship_ward, notes,
			status, payment_status, payment_method, voucher_code, carrier_code, tracking_number,
			subtotal, discount_total, shipping_fee, tax_total, grand_total,
			placed_at, confirmed_at, shipped_at, delivered_at, cancelled_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
		RETURNING id
	`,
		order.Number, order.CustomerID, order.Email, order.Phone,
		order.ShipTo.Name, order.ShipTo.Phone, order.ShipTo.Address,
		order.ShipTo.Province, order.ShipTo.District, order.ShipTo.Ward, order.Notes,
		string(order.Status), string(order.PaymentStatus), string(order.PaymentMethod),
		order.VoucherCode, order.CarrierCode, order.TrackingNumber,
		order.Totals.Subtotal, order.Totals.DiscountTotal, order.Totals.ShippingFee,
		order.Totals.TaxTotal, order.Totals.GrandTotal,
		order.PlacedAt, nullTime(order.ConfirmedAt), nullTime(order.ShippedAt),
		nullTime(order.DeliveredAt), nullTime(order.CancelledAt), order.UpdatedAt,
	).Scan(&order.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderNumberConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		line.OrderID = order.ID
		if err := r.q.QueryRowContext(ctx, `
			INSERT INTO order_lines (
				order_id, product_id, variant_id, title, sku, size, color, unit_price, quantity, line_total
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			RETURNING id
		`,
			line.OrderID, line.ProductID, line.VariantID, line.Title, line.SKU,
			line.Size, line.Color, line.UnitPrice, line.Quantity, line.LineTotal,
		).Scan(&line.ID); err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}

	return nil
}

func (r orderRepository) NumberExists(ctx context.Context, number string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_number = $1)`, number).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order number: %w", err)
	}
	return exists, nil
}

func (r orderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r orderRepository) GetForUpdate(ctx context.Context, id int64) (domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r orderRepository) GetByNumberForUpdate(ctx context.Context, number string) (domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1 FOR UPDATE`, number)
}

func (r orderRepository) getOne(ctx context.Context, query string, arg any) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	lines, err := r.loadLines(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines
	return order, nil
}

// Update сохраняет статусы, вехи и данные перевозчика. Позиции и итоги неизменны.
func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_status = $2,
		    carrier_code = $3,
		    tracking_number = $4,
		    confirmed_at = $5,
		    shipped_at = $6,
		    delivered_at = $7,
		    cancelled_at = $8,
		    updated_at = $9
		WHERE id = $10
	`,
		string(order.Status), string(order.PaymentStatus), order.CarrierCode, order.TrackingNumber,
		nullTime(order.ConfirmedAt), nullTime(order.ShippedAt), nullTime(order.DeliveredAt),
		nullTime(order.CancelledAt), order.UpdatedAt, order.ID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r orderRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]domain.OrderSummary, error) {
	return r.list(ctx, `
		SELECT `+summaryColumns+`
		FROM orders
		WHERE customer_id = $1
		ORDER BY placed_at DESC, id DESC
	`, limit, customerID)
}

func (r orderRepository) List(ctx context.Context, status *domain.OrderStatus, limit int) ([]domain.OrderSummary, error) {
	if status != nil {
		return r.list(ctx, `
			SELECT `+summaryColumns+`
			FROM orders
			WHERE status = $1
			ORDER BY placed_at DESC, id DESC
		`, limit, string(*status))
	}
	return r.list(ctx, `
		SELECT `+summaryColumns+`
		FROM orders
		ORDER BY placed_at DESC, id DESC
	`, limit)
}

func (r orderRepository) list(ctx context.Context, query string, limit int, args ...any) ([]domain.OrderSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OrderSummary, 0)
	for rows.Next() {
		var (
			s             domain.OrderSummary
			status        string
			paymentStatus string
		)
		if err := rows.Scan(
			&s.OrderID, &s.Number, &s.CustomerID, &s.Email, &s.Phone,
			&status, &paymentStatus, &s.GrandTotal, &s.PlacedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order summary: %w", err)
		}
		s.Status = domain.OrderStatus(status)
		s.PaymentStatus = domain.PaymentStatus(paymentStatus)
		s.PlacedAt = s.PlacedAt.UTC()
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return result, nil
}

func (r orderRepository) loadLines(ctx context.Context, orderID int64) ([]domain.OrderLine, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, product_id, variant_id, title, sku, size, color, unit_price, quantity, line_total
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(
			&l.ID, &l.OrderID, &l.ProductID, &l.VariantID, &l.Title, &l.SKU,
			&l.Size, &l.Color, &l.UnitPrice, &l.Quantity, &l.LineTotal,
		); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return lines, nil
}

func scanOrder(row *sql.Row) (domain.Order, error) {
	var (
		o                                 domain.Order
		status, paymentStatus, method     string
		confirmed, shipped, delivered, cx sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.CustomerID, &o.Email, &o.Phone,
		&o.ShipTo.Name, &o.ShipTo.Phone, &o.ShipTo.Address,
		&o.ShipTo.Province, &o.ShipTo.District, &o.ShipTo.Ward, &o.Notes,
		&status, &paymentStatus, &method, &o.VoucherCode, &o.CarrierCode, &o.TrackingNumber,
		&o.Totals.Subtotal, &o.Totals.DiscountTotal, &o.Totals.ShippingFee,
		&o.Totals.TaxTotal, &o.Totals.GrandTotal,
		&o.PlacedAt, &confirmed, &shipped, &delivered, &cx, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	o.PaymentMethod = domain.PaymentMethod(method)
	o.PlacedAt = o.PlacedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	o.ConfirmedAt = timePtr(confirmed)
	o.ShippedAt = timePtr(shipped)
	o.DeliveredAt = timePtr(delivered)
	o.CancelledAt = timePtr(cx)
	return o, nil
}

var _ domain.OrderRepository = orderRepository{}
