package models

// Role is looked up by the linking engine, never created by it.
type Role struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// PrimaryRole is the derived convenience attribute carried on a link payload.
// It is recomputed on every store/show and never independently stored. The
// empty marker (both fields null) means "explicitly no role", as opposed to
// the field being absent from the payload.
type PrimaryRole struct {
	ID   *string `json:"id"`
	Name *string `json:"name"`
}

// RoleIDs returns the ids of roles preserving order.
func RoleIDs(roles []Role) []string {
	ids := make([]string, 0, len(roles))
	for _, role := range roles {
		ids = append(ids, role.ID)
	}
	return ids
}
