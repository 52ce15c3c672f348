package clickhouse

import (
	"context"
	"time"

	"github.com/google/uuid"

	"basis/internal/adapters/clickhouse"
	"basis/internal/domain/audit"
	"basis/pkg/errors"
	"basis/pkg/logger"
)

// Compile-time check
var _ audit.Logger = (*AuditRepository)(nil)

// AuditRepository writes lifecycle audit entries to ClickHouse. The table is
// append-only; entries are never updated or deleted.
type AuditRepository struct {
	client *clickhouse.Client
	log    *logger.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(client *clickhouse.Client) *AuditRepository {
	return &AuditRepository{
		client: client,
		log:    logger.Get().With("component", "audit_repository"),
	}
}

// Log appends one audit entry
func (r *AuditRepository) Log(ctx context.Context, entry audit.Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	query := `
		INSERT INTO audit_log (
			id, user_id, position_id, event_kind, details, ip_address, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	err := r.client.Exec(ctx, query,
		entry.ID, entry.UserID, entry.PositionID,
		entry.EventKind.String(), entry.Details, entry.IPAddress, entry.Timestamp,
	)
	if err != nil {
		return errors.Wrap(err, "failed to write audit entry")
	}

	return nil
}

// GetByPosition retrieves audit history for one position, oldest first
func (r *AuditRepository) GetByPosition(ctx context.Context, positionID uuid.UUID) ([]audit.Entry, error) {
	entries := make([]audit.Entry, 0)

	query := `
		SELECT id, user_id, position_id, event_kind, details, ip_address, timestamp
		FROM audit_log
		WHERE position_id = ?
		ORDER BY timestamp ASC`

	if err := r.client.Query(ctx, &entries, query, positionID); err != nil {
		return nil, errors.Wrap(err, "failed to query audit log")
	}
	return entries, nil
}
