// Package link persists user references and their role associations.
package link

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/linkage"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var linkColumns = []string{
	"id", "external_id", "user_id", "reference_type", "reference_id",
	"workspace_type", "workspace_id", "props", "created_at", "updated_at",
}

// Repository handles user reference persistence.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) GetByID(ctx context.Context, id string) (*models.UserReference, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.GetByID")
	defer span.End()

	return r.getBy(ctx, r.db, "id", id, "")
}

func (r *Repository) GetByExternalID(ctx context.Context, externalID string) (*models.UserReference, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.GetByExternalID")
	defer span.End()

	return r.getBy(ctx, r.db, "external_id", externalID, "")
}

// GetByIDTx locks the row for the remainder of the transaction.
func (r *Repository) GetByIDTx(ctx context.Context, tx database.Tx, id string) (*models.UserReference, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.GetByIDTx")
	defer span.End()

	return r.getBy(ctx, tx, "id", id, "FOR UPDATE")
}

func (r *Repository) GetByExternalIDTx(ctx context.Context, tx database.Tx, externalID string) (*models.UserReference, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.GetByExternalIDTx")
	defer span.End()

	return r.getBy(ctx, tx, "external_id", externalID, "FOR UPDATE")
}

type getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

func (r *Repository) getBy(ctx context.Context, q getter, column, value, suffix string) (*models.UserReference, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(linkColumns...)
	sb.From("user_references")
	sb.Where(sb.Equal(column, value))
	sb.Limit(1)

	query, args := sb.Build()
	if suffix != "" {
		query += " " + suffix
	}

	var link models.UserReference
	if err := q.GetContext(ctx, &link, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, linkage.NewNotFound("user reference", value)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{column: value}).Error("Failed to get user reference")
		return nil, linkage.NewDependency("link.get", err)
	}
	return &link, nil
}

// UpsertByGuardTx creates or returns the row for the guard tuple in a single
// atomic statement. The unique index treats NULL guard members as equal, so
// the same tuple always lands on the same row. external_id is assigned on
// insert only and never rewritten.
func (r *Repository) UpsertByGuardTx(ctx context.Context, tx database.Tx, guard models.GuardTuple) (*models.UserReference, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.UpsertByGuardTx")
	defer span.End()

	now := time.Now().UTC()
	id := uuid.New().String()
	externalID := uuid.New().String()

	query := `
		INSERT INTO user_references (
			id, external_id, user_id, reference_type, reference_id,
			workspace_type, workspace_id, props, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, '{}'::jsonb, $8, $8)
		ON CONFLICT (user_id, reference_type, reference_id, workspace_type, workspace_id)
		DO UPDATE SET
			updated_at = EXCLUDED.updated_at
		RETURNING
			id, external_id, user_id, reference_type, reference_id,
			workspace_type, workspace_id, props, created_at, updated_at,
			(xmax = 0) AS inserted
	`

	var result struct {
		models.UserReference
		Inserted bool `db:"inserted"`
	}

	err := tx.GetContext(ctx, &result, query,
		id, externalID, guard.UserID, guard.ReferenceType, guard.ReferenceID,
		guard.WorkspaceType, guard.WorkspaceID, now,
	)
	if err != nil {
		if isConflict(err) {
			return nil, false, linkage.NewConflict("concurrent store for the same link", err)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert user reference")
		return nil, false, linkage.NewDependency("link.upsert", err)
	}

	if result.Inserted {
		r.logger.WithContext(ctx).WithFields(map[string]any{"id": result.ID}).Info("Created user reference")
	}
	return &result.UserReference, result.Inserted, nil
}

// BackfillTx fills NULL identity and workspace columns from the guard tuple
// without overwriting set values, and refreshes link from the returned row.
// The reference columns stay as stored; an id-addressed store never rebinds a
// link to a different reference.
func (r *Repository) BackfillTx(ctx context.Context, tx database.Tx, link *models.UserReference, guard models.GuardTuple) error {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.BackfillTx")
	defer span.End()

	query := `
		UPDATE user_references SET
			user_id = COALESCE(user_id, $2),
			workspace_type = COALESCE(workspace_type, $3),
			workspace_id = COALESCE(workspace_id, $4),
			updated_at = $5
		WHERE id = $1
		RETURNING
			id, external_id, user_id, reference_type, reference_id,
			workspace_type, workspace_id, props, created_at, updated_at
	`

	var updated models.UserReference
	err := tx.GetContext(ctx, &updated, query,
		link.ID, guard.UserID,
		guard.WorkspaceType, guard.WorkspaceID, time.Now().UTC(),
	)
	if err != nil {
		if isConflict(err) {
			return linkage.NewConflict("concurrent store for the same link", err)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": link.ID}).Error("Failed to backfill user reference")
		return linkage.NewDependency("link.backfill", err)
	}
	*link = updated
	return nil
}

// ReplaceRolesTx detaches every role association and attaches the target set
// in order. Position records the input order so reads reproduce it.
func (r *Repository) ReplaceRolesTx(ctx context.Context, tx database.Tx, linkID string, roleIDs []string) error {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.ReplaceRolesTx")
	defer span.End()

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom("user_reference_roles")
	db.Where(db.Equal("user_reference_id", linkID))
	query, args := db.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"link_id": linkID}).Error("Failed to detach roles")
		return linkage.NewDependency("link.roles.detach", err)
	}

	if len(roleIDs) == 0 {
		return nil
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("user_reference_roles")
	ib.Cols("user_reference_id", "role_id", "position")
	for i, roleID := range roleIDs {
		ib.Values(linkID, roleID, i)
	}
	query, args = ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isConflict(err) {
			return linkage.NewConflict("concurrent role sync for the same link", err)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"link_id": linkID}).Error("Failed to attach roles")
		return linkage.NewDependency("link.roles.attach", err)
	}
	return nil
}

// MergePropsTx shallow-merges props into the stored jsonb map. Incoming keys
// win at the top level.
func (r *Repository) MergePropsTx(ctx context.Context, tx database.Tx, linkID string, props map[string]any) (map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.MergePropsTx")
	defer span.End()

	incoming, err := json.Marshal(props)
	if err != nil {
		return nil, linkage.NewValidation("props is not serializable", "props")
	}

	query := `
		UPDATE user_references SET
			props = COALESCE(props, '{}'::jsonb) || $2::jsonb,
			updated_at = $3
		WHERE id = $1
		RETURNING props
	`

	var merged database.JSONB[map[string]any]
	if err := tx.GetContext(ctx, &merged, query, linkID, incoming, time.Now().UTC()); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"link_id": linkID}).Error("Failed to merge props")
		return nil, linkage.NewDependency("link.props", err)
	}
	return merged.GetValue(), nil
}

// ListRoles returns the link's roles in attachment order.
func (r *Repository) ListRoles(ctx context.Context, linkID string) ([]models.Role, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.ListRoles")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("r.id", "r.name")
	sb.From("user_reference_roles urr")
	sb.JoinWithOption(sqlbuilder.InnerJoin, "roles r", "r.id = urr.role_id")
	sb.Where(sb.Equal("urr.user_reference_id", linkID))
	sb.OrderBy("urr.position")

	query, args := sb.Build()
	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"link_id": linkID}).Error("Failed to list link roles")
		return nil, linkage.NewDependency("link.roles.list", err)
	}
	return roles, nil
}

// isConflict classifies storage races: unique violations from the guard index
// and serialization failures both mean a concurrent writer won.
func isConflict(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "could not serialize access")
}
