package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type shipmentRepository struct {
	q queryer
}

func (r shipmentRepository) GetForUpdate(ctx context.Context, carrierCode, trackingNumber string) (domain.Shipment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var sh domain.Shipment
	err := r.q.QueryRowContext(ctx, `
		SELECT id, order_id, carrier_code, tracking_number, status, last_update
		FROM shipments
		WHERE carrier_code = $1 AND tracking_number = $2
		FOR UPDATE
	`, carrierCode, trackingNumber).Scan(
		&sh.ID, &sh.OrderID, &sh.CarrierCode, &sh.TrackingNumber, &sh.Status, &sh.LastUpdate,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Shipment{}, domain.ErrShipmentNotFound
		}
		return domain.Shipment{}, fmt.Errorf("select shipment: %w", err)
	}
	sh.LastUpdate = sh.LastUpdate.UTC()
	return sh, nil
}

func (r shipmentRepository) Create(ctx context.Context, shipment *domain.Shipment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.q.QueryRowContext(ctx, `
		INSERT INTO shipments (order_id, carrier_code, tracking_number, status, last_update)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`,
		shipment.OrderID, shipment.CarrierCode, shipment.TrackingNumber, shipment.Status, shipment.LastUpdate,
	).Scan(&shipment.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewIntegrityError("shipment %s/%s already exists", shipment.CarrierCode, shipment.TrackingNumber)
		}
		return fmt.Errorf("insert shipment: %w", err)
	}
	return nil
}

func (r shipmentRepository) Update(ctx context.Context, shipment domain.Shipment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE shipments
		SET status = $1, last_update = $2
		WHERE carrier_code = $3 AND tracking_number = $4
	`, shipment.Status, shipment.LastUpdate, shipment.CarrierCode, shipment.TrackingNumber)
	if err != nil {
		return fmt.Errorf("update shipment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrShipmentNotFound
	}
	return nil
}

var _ domain.ShipmentRepository = shipmentRepository{}
