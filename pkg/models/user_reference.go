package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
)

// UserReference links a user to a polymorphic reference entity, optionally
// scoped to a workspace. At most one row exists per guard tuple
// (user_id, reference_type, reference_id, workspace_type, workspace_id).
// ExternalID is the public identifier, assigned once at first creation.
type UserReference struct {
	ID            string                         `json:"id" db:"id"`
	ExternalID    string                         `json:"external_id" db:"external_id"`
	UserID        *string                        `json:"user_id,omitempty" db:"user_id"`
	ReferenceType *string                        `json:"reference_type,omitempty" db:"reference_type"`
	ReferenceID   *string                        `json:"reference_id,omitempty" db:"reference_id"`
	WorkspaceType *string                        `json:"workspace_type,omitempty" db:"workspace_type"`
	WorkspaceID   *string                        `json:"workspace_id,omitempty" db:"workspace_id"`
	Props         database.JSONB[map[string]any] `json:"props" db:"props"`
	CreatedAt     time.Time                      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time                      `json:"updated_at" db:"updated_at"`

	// Derived associations, populated by the link store service.
	RoleIDs     []string       `json:"role_ids" db:"-"`
	Roles       []Role         `json:"roles,omitempty" db:"-"`
	PrimaryRole *PrimaryRole   `json:"primary_role,omitempty" db:"-"`
	User        *User          `json:"user,omitempty" db:"-"`
	Reference   map[string]any `json:"reference,omitempty" db:"-"`
}

// GuardTuple is the composite key a link upsert is guarded by. Empty optional
// members are stored as NULL; the backing unique index treats NULLs as equal
// so "no workspace" collides with "no workspace".
type GuardTuple struct {
	UserID        *string
	ReferenceType *string
	ReferenceID   *string
	WorkspaceType *string
	WorkspaceID   *string
}

// NullableString maps "" to NULL for guard-tuple members.
func NullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
