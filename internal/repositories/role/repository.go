// Package role reads role records. Roles are provisioned elsewhere; the
// linking engine only looks them up.
package role

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/linkage"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

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

// FindByIDs resolves ids to role records, preserving input order. Every id
// must match; any miss fails the whole lookup.
func (r *Repository) FindByIDs(ctx context.Context, ids []string) ([]models.Role, error) {
	ctx, span := tracing.StartSpan(ctx, "role.Repository.FindByIDs")
	defer span.End()

	if len(ids) == 0 {
		return []models.Role{}, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "name")
	sb.From("roles")
	sb.Where(sb.In("id", sqlbuilder.List(ids)))

	query, args := sb.Build()
	var found []models.Role
	if err := r.db.SelectContext(ctx, &found, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"role_ids": ids}).Error("Failed to find roles")
		return nil, linkage.NewDependency("role.find", err)
	}

	byID := make(map[string]models.Role, len(found))
	for _, role := range found {
		byID[role.ID] = role
	}

	roles := make([]models.Role, 0, len(ids))
	var missing []string
	for _, id := range ids {
		role, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		roles = append(roles, role)
	}
	if len(missing) > 0 {
		return nil, linkage.NewRolesNotFound(missing)
	}
	return roles, nil
}
