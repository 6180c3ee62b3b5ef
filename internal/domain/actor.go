package domain

import "github.com/google/uuid"

// Role: роль вызывающей стороны, выданная провайдером идентичности.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	// RoleSystem: внутренние вызовы (webhook перевозчиков, фоновые задачи).
	RoleSystem Role = "system"
)

// Actor: проверенная идентичность, от имени которой выполняется операция.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// SystemActor возвращает актора для внутренних вызовов.
func SystemActor() Actor {
	return Actor{ID: uuid.Nil, Role: RoleSystem}
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) IsSystem() bool { return a.Role == RoleSystem }

// CanAccess сообщает, может ли актор видеть и менять заказ клиента.
func (a Actor) CanAccess(customerID uuid.UUID) bool {
	switch a.Role {
	case RoleAdmin, RoleSystem:
		return true
	case RoleCustomer:
		return a.ID != uuid.Nil && a.ID == customerID
	default:
		return false
	}
}
