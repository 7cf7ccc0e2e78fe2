package linkage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reference"
)

func silentLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) IsOpen() bool { return !t.committed && !t.rolledBack }

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.IsOpen() {
		t.committed = true
	}
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.IsOpen() {
		t.rolledBack = true
	}
	return nil
}

func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}

func (t *fakeTx) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}

func (t *fakeTx) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}

type fakeDB struct {
	lastTx *fakeTx
}

func (d *fakeDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	d.lastTx = &fakeTx{}
	return ctx, d.lastTx, nil
}

// memLinks is an in-memory LinkRepository.
type memLinks struct {
	byID    map[string]*models.UserReference
	byGuard map[string]*models.UserReference
	roleIDs map[string][]string
	roleSet map[string]models.Role
	props   map[string]map[string]any

	upsertConflicts int
	replaceErr      error
}

func newMemLinks() *memLinks {
	return &memLinks{
		byID:    map[string]*models.UserReference{},
		byGuard: map[string]*models.UserReference{},
		roleIDs: map[string][]string{},
		roleSet: map[string]models.Role{},
		props:   map[string]map[string]any{},
	}
}

func (m *memLinks) seed(link *models.UserReference) {
	m.byID[link.ID] = link
	m.byGuard[guardKey(models.GuardTuple{
		UserID:        link.UserID,
		ReferenceType: link.ReferenceType,
		ReferenceID:   link.ReferenceID,
		WorkspaceType: link.WorkspaceType,
		WorkspaceID:   link.WorkspaceID,
	})] = link
}

func guardKey(g models.GuardTuple) string {
	part := func(s *string) string {
		if s == nil {
			return "<null>"
		}
		return *s
	}
	return strings.Join([]string{
		part(g.UserID), part(g.ReferenceType), part(g.ReferenceID),
		part(g.WorkspaceType), part(g.WorkspaceID),
	}, "|")
}

func (m *memLinks) GetByID(ctx context.Context, id string) (*models.UserReference, error) {
	link, ok := m.byID[id]
	if !ok {
		return nil, NewNotFound("user reference", id)
	}
	cp := *link
	return &cp, nil
}

func (m *memLinks) GetByExternalID(ctx context.Context, externalID string) (*models.UserReference, error) {
	for _, link := range m.byID {
		if link.ExternalID == externalID {
			cp := *link
			return &cp, nil
		}
	}
	return nil, NewNotFound("user reference", externalID)
}

func (m *memLinks) GetByIDTx(ctx context.Context, tx database.Tx, id string) (*models.UserReference, error) {
	return m.GetByID(ctx, id)
}

func (m *memLinks) GetByExternalIDTx(ctx context.Context, tx database.Tx, externalID string) (*models.UserReference, error) {
	return m.GetByExternalID(ctx, externalID)
}

func (m *memLinks) UpsertByGuardTx(ctx context.Context, tx database.Tx, guard models.GuardTuple) (*models.UserReference, bool, error) {
	if m.upsertConflicts > 0 {
		m.upsertConflicts--
		return nil, false, NewConflict("concurrent store for the same link", fmt.Errorf("duplicate key value violates unique constraint"))
	}

	key := guardKey(guard)
	if existing, ok := m.byGuard[key]; ok {
		existing.UpdatedAt = time.Now().UTC()
		cp := *existing
		return &cp, false, nil
	}

	now := time.Now().UTC()
	link := &models.UserReference{
		ID:            uuid.New().String(),
		ExternalID:    uuid.New().String(),
		UserID:        guard.UserID,
		ReferenceType: guard.ReferenceType,
		ReferenceID:   guard.ReferenceID,
		WorkspaceType: guard.WorkspaceType,
		WorkspaceID:   guard.WorkspaceID,
		Props:         database.JSONB[map[string]any]{Data: map[string]any{}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.byID[link.ID] = link
	m.byGuard[key] = link
	cp := *link
	return &cp, true, nil
}

func (m *memLinks) BackfillTx(ctx context.Context, tx database.Tx, link *models.UserReference, guard models.GuardTuple) error {
	stored, ok := m.byID[link.ID]
	if !ok {
		return NewNotFound("user reference", link.ID)
	}
	if stored.UserID == nil {
		stored.UserID = guard.UserID
	}
	if stored.WorkspaceType == nil {
		stored.WorkspaceType = guard.WorkspaceType
	}
	if stored.WorkspaceID == nil {
		stored.WorkspaceID = guard.WorkspaceID
	}
	stored.UpdatedAt = time.Now().UTC()
	*link = *stored
	return nil
}

func (m *memLinks) ReplaceRolesTx(ctx context.Context, tx database.Tx, linkID string, roleIDs []string) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.roleIDs[linkID] = append([]string{}, roleIDs...)
	return nil
}

func (m *memLinks) MergePropsTx(ctx context.Context, tx database.Tx, linkID string, props map[string]any) (map[string]any, error) {
	merged := MergeProps(m.props[linkID], props)
	m.props[linkID] = merged

	if stored, ok := m.byID[linkID]; ok {
		stored.Props = database.JSONB[map[string]any]{Data: merged}
	}
	return merged, nil
}

func (m *memLinks) ListRoles(ctx context.Context, linkID string) ([]models.Role, error) {
	ids := m.roleIDs[linkID]
	roles := make([]models.Role, 0, len(ids))
	for _, id := range ids {
		roles = append(roles, m.roleSet[id])
	}
	return roles, nil
}

// fakeRoles is an in-memory RoleLookup.
type fakeRoles struct {
	byID map[string]models.Role
}

func (f *fakeRoles) FindByIDs(ctx context.Context, ids []string) ([]models.Role, error) {
	roles := make([]models.Role, 0, len(ids))
	var missing []string
	for _, id := range ids {
		role, ok := f.byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		roles = append(roles, role)
	}
	if len(missing) > 0 {
		return nil, NewRolesNotFound(missing)
	}
	return roles, nil
}

// fakeUsers is an in-memory IdentityResolver.
type fakeUsers struct {
	byID      map[string]*models.User
	byEmail   map[string]*models.User
	lastInput models.UserInput
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		byID:    map[string]*models.User{},
		byEmail: map[string]*models.User{},
	}
}

func (f *fakeUsers) FindOrCreate(ctx context.Context, input models.UserInput) (*models.User, error) {
	f.lastInput = input

	if input.ID != "" {
		if user, ok := f.byID[input.ID]; ok {
			return user, nil
		}
		return nil, NewNotFound("user", input.ID)
	}
	if user, ok := f.byEmail[input.Email]; ok {
		return user, nil
	}

	user := &models.User{
		ID:       uuid.New().String(),
		Username: input.Username,
		Email:    input.Email,
	}
	f.byID[user.ID] = user
	f.byEmail[user.Email] = user
	return user, nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := f.byID[id]
	if !ok {
		return nil, NewNotFound("user", id)
	}
	return user, nil
}

// fakeHandler is a reference.Handler with optional load support.
type fakeHandler struct {
	handle     reference.Handle
	storeErr   error
	normErr    error
	loaded     map[string]any
	lastStored map[string]any
}

func (h *fakeHandler) Normalize(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if h.normErr != nil {
		return nil, h.normErr
	}
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["normalized"] = true
	return out, nil
}

func (h *fakeHandler) Store(ctx context.Context, payload map[string]any) (reference.Handle, error) {
	if h.storeErr != nil {
		return reference.Handle{}, h.storeErr
	}
	h.lastStored = payload
	return h.handle, nil
}

func (h *fakeHandler) Load(ctx context.Context, referenceID string) (map[string]any, error) {
	return h.loaded, nil
}

type fakeEmitter struct {
	calls   int
	created []bool
	err     error
}

func (e *fakeEmitter) EmitLinkStored(ctx context.Context, link *models.UserReference, created bool) error {
	e.calls++
	e.created = append(e.created, created)
	return e.err
}

type fakeProjector struct {
	calls int
	err   error
}

func (p *fakeProjector) ProjectLink(ctx context.Context, link *models.UserReference) error {
	p.calls++
	return p.err
}
