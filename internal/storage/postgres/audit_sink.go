package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type auditSink struct {
	q queryer
}

func (s auditSink) Append(ctx context.Context, entry domain.AdminAuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	detail := string(entry.Detail)
	if detail == "" {
		detail = "{}"
	}
	if _, err := s.q.ExecContext(ctx, `
		INSERT INTO admin_audit_log (id, actor_id, action, entity, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7)
	`, entry.ID, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, detail, entry.CreatedAt); err != nil {
		return fmt.Errorf("insert admin audit entry: %w", err)
	}
	return nil
}

var _ domain.AuditSink = auditSink{}
