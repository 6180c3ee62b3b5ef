package domain

import (
	"time"

	"github.com/google/uuid"
)

// AdminAuditEntry: запись журнала действий администраторов.
type AdminAuditEntry struct {
	ID        uuid.UUID
	ActorID   uuid.UUID
	Action    string
	Entity    string
	EntityID  string
	Detail    []byte
	CreatedAt time.Time
}

const (
	AuditActionUpdateOrderStatus = "UpdateOrderStatus"
	AuditEntityOrder             = "Order"
)
