// Package billing enforces plan limits. The only limit today is how many
// assistants a workspace may create.
package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	Reason  string
	Used    int
	Limit   int
}

// QuotaService compares workspace usage against its subscription.
type QuotaService struct {
	db               *sql.DB
	defaultFreeQuota int
}

// NewQuotaService creates a QuotaService. defaultFreeQuota applies to
// workspaces with no subscription row.
func NewQuotaService(db *sql.DB, defaultFreeQuota int) *QuotaService {
	return &QuotaService{db: db, defaultFreeQuota: defaultFreeQuota}
}

// CheckAssistantQuota reports whether the workspace may create one more
// assistant: allowed while currentCount < subscription limit.
func (s *QuotaService) CheckAssistantQuota(ctx context.Context, workspaceID string) (Decision, error) {
	limit := s.defaultFreeQuota
	row := s.db.QueryRowContext(ctx,
		"SELECT assistant_limit FROM subscription WHERE workspace_id = ?", workspaceID)
	if err := row.Scan(&limit); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Decision{}, fmt.Errorf("quota: load subscription: %w", err)
	}

	var used int
	row = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM assistant WHERE workspace_id = ?", workspaceID)
	if err := row.Scan(&used); err != nil {
		return Decision{}, fmt.Errorf("quota: count assistants: %w", err)
	}

	decision := Decision{Used: used, Limit: limit}
	if used < limit {
		decision.Allowed = true
		return decision, nil
	}
	decision.Reason = fmt.Sprintf("assistant limit reached (%d of %d used)", used, limit)
	return decision, nil
}
