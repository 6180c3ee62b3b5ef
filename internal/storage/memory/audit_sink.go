package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type auditSink struct {
	st *state
}

func (a auditSink) Append(_ context.Context, entry domain.AdminAuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Detail = append([]byte(nil), entry.Detail...)
	a.st.audit = append(a.st.audit, entry)
	return nil
}

var _ domain.AuditSink = auditSink{}
