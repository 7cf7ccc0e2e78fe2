package linkage

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// RoleSyncer replaces a link's role associations with an exact target set.
// Sync is detach-then-attach: the stored set always equals the input set
// afterwards, in input order. An empty set detaches everything.
type RoleSyncer struct {
	links  LinkRepository
	logger ectologger.Logger
}

func NewRoleSyncer(links LinkRepository, logger ectologger.Logger) *RoleSyncer {
	return &RoleSyncer{
		links:  links,
		logger: logger,
	}
}

func (r *RoleSyncer) SyncTx(ctx context.Context, tx database.Tx, link *models.UserReference, roleIDs []string) error {
	ctx, span := tracing.StartSpan(ctx, "linkage.RoleSyncer.SyncTx")
	defer span.End()

	if err := r.links.ReplaceRolesTx(ctx, tx, link.ID, roleIDs); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"link_id": link.ID,
		}).Error("failed to sync roles")
		return err
	}
	return nil
}

// PrimaryRoleOf derives the primary role from a synced set: the last role
// wins. An empty set yields the explicit empty marker rather than nil, which
// signals "no role" to consumers of the payload.
func PrimaryRoleOf(roles []models.Role) *models.PrimaryRole {
	if len(roles) == 0 {
		return &models.PrimaryRole{}
	}
	last := roles[len(roles)-1]
	return &models.PrimaryRole{ID: &last.ID, Name: &last.Name}
}
