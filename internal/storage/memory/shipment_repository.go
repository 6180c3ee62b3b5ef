package memory

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type shipmentRepository struct {
	st *state
}

func (r shipmentRepository) GetForUpdate(_ context.Context, carrierCode, trackingNumber string) (domain.Shipment, error) {
	sh, ok := r.st.shipments[shipmentKey{carrierCode: carrierCode, trackingNumber: trackingNumber}]
	if !ok {
		return domain.Shipment{}, domain.ErrShipmentNotFound
	}
	return sh, nil
}

func (r shipmentRepository) Create(_ context.Context, shipment *domain.Shipment) error {
	key := shipmentKey{carrierCode: shipment.CarrierCode, trackingNumber: shipment.TrackingNumber}
	if _, exists := r.st.shipments[key]; exists {
		return domain.NewIntegrityError("shipment %s/%s already exists", shipment.CarrierCode, shipment.TrackingNumber)
	}
	r.st.nextShipment++
	shipment.ID = r.st.nextShipment
	r.st.shipments[key] = *shipment
	return nil
}

func (r shipmentRepository) Update(_ context.Context, shipment domain.Shipment) error {
	key := shipmentKey{carrierCode: shipment.CarrierCode, trackingNumber: shipment.TrackingNumber}
	if _, ok := r.st.shipments[key]; !ok {
		return domain.ErrShipmentNotFound
	}
	r.st.shipments[key] = shipment
	return nil
}

var _ domain.ShipmentRepository = shipmentRepository{}
