package linkage

import (
	"context"
	"database/sql"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reference"
)

// Input is the normalized form of a store call, produced by the
// transformation pipeline. Ids are uuid strings throughout.
type Input struct {
	ID            string            `json:"id" validate:"omitempty,uuid"`
	ExternalID    string            `json:"external_id" validate:"omitempty,uuid"`
	UserID        string            `json:"user_id" validate:"omitempty,uuid"`
	User          *models.UserInput `json:"user"`
	ReferenceType string            `json:"reference_type"`
	ReferenceID   string            `json:"reference_id"`
	Reference     map[string]any    `json:"reference"`
	WorkspaceType string            `json:"workspace_type"`
	WorkspaceID   string            `json:"workspace_id"`
	RoleIDs       []string          `json:"role_ids"`
	Roles         []models.Role     `json:"roles"`
	Props         map[string]any    `json:"props"`

	// rolesProvided records whether the raw input carried a roles or role_ids
	// key at all; an explicit empty list detaches, absence of both is invalid.
	rolesProvided bool
}

// Guard returns the guard tuple the upsert is keyed by.
func (in *Input) Guard() models.GuardTuple {
	return models.GuardTuple{
		UserID:        models.NullableString(in.UserID),
		ReferenceType: models.NullableString(in.ReferenceType),
		ReferenceID:   models.NullableString(in.ReferenceID),
		WorkspaceType: models.NullableString(in.WorkspaceType),
		WorkspaceID:   models.NullableString(in.WorkspaceID),
	}
}

// ShowFilter resolves a link for Show. ID takes precedence over ExternalID;
// at least one is required. Include is the caller's eager-load set
// ("roles", "user", "reference"); unknown names are ignored.
type ShowFilter struct {
	ID         string
	ExternalID string
	Include    []string
}

func (f ShowFilter) includes(name string) bool {
	for _, inc := range f.Include {
		if inc == name {
			return true
		}
	}
	return false
}

// LinkRepository is the persistence contract for user references. All *Tx
// methods run inside the unit of work owned by the store service.
type LinkRepository interface {
	GetByID(ctx context.Context, id string) (*models.UserReference, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.UserReference, error)
	GetByIDTx(ctx context.Context, tx database.Tx, id string) (*models.UserReference, error)
	GetByExternalIDTx(ctx context.Context, tx database.Tx, externalID string) (*models.UserReference, error)
	// UpsertByGuardTx creates or returns the row matching the guard tuple.
	// The bool result is true when a new row (with a fresh external id) was
	// inserted. A storage-level race surfaces as a conflict-kind error.
	UpsertByGuardTx(ctx context.Context, tx database.Tx, guard models.GuardTuple) (*models.UserReference, bool, error)
	// BackfillTx fills user/workspace columns that are currently NULL from
	// the guard tuple, never overwriting set values, and refreshes link.
	BackfillTx(ctx context.Context, tx database.Tx, link *models.UserReference, guard models.GuardTuple) error
	// ReplaceRolesTx makes the stored role-association set exactly equal to
	// roleIDs, preserving slice order. An empty set detaches everything.
	ReplaceRolesTx(ctx context.Context, tx database.Tx, linkID string, roleIDs []string) error
	// MergePropsTx shallow-merges props into the stored props map and returns
	// the merged document.
	MergePropsTx(ctx context.Context, tx database.Tx, linkID string, props map[string]any) (map[string]any, error)
	ListRoles(ctx context.Context, linkID string) ([]models.Role, error)
}

// RoleLookup resolves role ids to role records; all ids must match.
type RoleLookup interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.Role, error)
}

// IdentityResolver finds or creates a user from partial identity data.
type IdentityResolver interface {
	FindOrCreate(ctx context.Context, input models.UserInput) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// ReferenceRegistry is the registry surface the engine consumes.
type ReferenceRegistry interface {
	Handler(tag string) (reference.Handler, error)
	Tags() []string
}

// LinkEmitter publishes link lifecycle events after a successful store.
type LinkEmitter interface {
	EmitLinkStored(ctx context.Context, link *models.UserReference, created bool) error
}

// LinkProjector mirrors stored links into the graph database.
type LinkProjector interface {
	ProjectLink(ctx context.Context, link *models.UserReference) error
}

// TxBeginner is the slice of database.DB the store service needs to open its
// unit of work.
type TxBeginner interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}
