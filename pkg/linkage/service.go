package linkage

import (
	"context"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reference"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Service owns the transactional store flow and link retrieval. Reference
// persistence and user resolution happen outside the unit of work; the link
// upsert, role sync, and props merge commit or roll back together.
type Service struct {
	db       TxBeginner
	links    LinkRepository
	users    IdentityResolver
	registry ReferenceRegistry
	roleSync *RoleSyncer
	props    *PropsMerger
	emitter  LinkEmitter
	graph    LinkProjector
	logger   ectologger.Logger
}

func NewService(
	db TxBeginner,
	links LinkRepository,
	users IdentityResolver,
	registry ReferenceRegistry,
	roleSync *RoleSyncer,
	props *PropsMerger,
	emitter LinkEmitter,
	graph LinkProjector,
	logger ectologger.Logger,
) *Service {
	return &Service{
		db:       db,
		links:    links,
		users:    users,
		registry: registry,
		roleSync: roleSync,
		props:    props,
		emitter:  emitter,
		graph:    graph,
		logger:   logger,
	}
}

// Store runs the full store flow over a normalized input. A concurrent store
// of the same guard tuple is retried once before surfacing a conflict.
func (s *Service) Store(ctx context.Context, in *Input) (*models.UserReference, error) {
	ctx, span := tracing.StartSpan(ctx, "linkage.Service.Store")
	defer span.End()

	if err := s.storeReference(ctx, in); err != nil {
		return nil, err
	}
	if err := s.resolveUser(ctx, in); err != nil {
		return nil, err
	}

	link, created, err := s.storeTx(ctx, in)
	if err != nil && IsKind(err, KindConflict) {
		s.logger.WithContext(ctx).WithError(err).Info("store conflict, retrying once")
		link, created, err = s.storeTx(ctx, in)
	}
	if err != nil {
		return nil, err
	}

	s.decorateRoles(link, in.Roles)

	if s.emitter != nil {
		if err := s.emitter.EmitLinkStored(ctx, link, created); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"link_id": link.ID,
			}).Error("failed to emit link event")
		}
	}
	if s.graph != nil {
		if err := s.graph.ProjectLink(ctx, link); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"link_id": link.ID,
			}).Error("failed to project link to graph")
		}
	}

	return link, nil
}

// storeReference persists the reference payload through its handler. A handler
// may report an existing link the reference is already bound to; the upsert
// then updates that link in place. A payload without a reference_type is
// skipped; reference resolution is optional.
func (s *Service) storeReference(ctx context.Context, in *Input) error {
	if in.Reference == nil || in.ReferenceType == "" {
		return nil
	}

	handler, err := s.registry.Handler(in.ReferenceType)
	if err != nil {
		return NewUnknownReferenceType(in.ReferenceType, err)
	}

	handle, err := handler.Store(ctx, in.Reference)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"reference_type": in.ReferenceType,
		}).Error("failed to store reference")
		return NewDependency("reference.store", err)
	}

	if handle.ReferenceID != "" {
		in.ReferenceID = handle.ReferenceID
	}
	if handle.LinkID != "" && in.ID == "" {
		in.ID = handle.LinkID
	}
	if handle.LinkExternalID != "" && in.ExternalID == "" {
		in.ExternalID = handle.LinkExternalID
	}
	return nil
}

// resolveUser finds or creates the user when identity data was supplied
// without a user_id. Emails are matched case-insensitively.
func (s *Service) resolveUser(ctx context.Context, in *Input) error {
	if in.User == nil {
		return nil
	}
	if in.User.ID == "" && (in.User.Username == "" || in.User.Email == "") {
		return nil
	}
	in.User.Email = strings.ToLower(in.User.Email)

	user, err := s.users.FindOrCreate(ctx, *in.User)
	if err != nil {
		return err
	}
	if in.UserID == "" {
		in.UserID = user.ID
	}
	return nil
}

// storeTx runs the link upsert, role sync, and props merge in one transaction.
func (s *Service) storeTx(ctx context.Context, in *Input) (*models.UserReference, bool, error) {
	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return nil, false, NewDependency("database.begin", err)
	}
	defer tx.Rollback(ctx)

	link, created, err := s.resolveLinkTx(ctx, tx, in)
	if err != nil {
		return nil, false, err
	}

	if err := s.roleSync.SyncTx(ctx, tx, link, in.RoleIDs); err != nil {
		return nil, false, err
	}
	if err := s.props.MergeTx(ctx, tx, link, in.Props); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, NewDependency("database.commit", err)
	}
	return link, created, nil
}

// resolveLinkTx locates the target row. A payload addressing an existing link
// by id or external id locks and backfills it; otherwise the guard tuple is
// upserted.
func (s *Service) resolveLinkTx(ctx context.Context, tx database.Tx, in *Input) (*models.UserReference, bool, error) {
	guard := in.Guard()

	if in.ID != "" {
		link, err := s.links.GetByIDTx(ctx, tx, in.ID)
		if err != nil {
			return nil, false, err
		}
		if err := s.links.BackfillTx(ctx, tx, link, guard); err != nil {
			return nil, false, err
		}
		return link, false, nil
	}
	if in.ExternalID != "" {
		link, err := s.links.GetByExternalIDTx(ctx, tx, in.ExternalID)
		if err != nil {
			return nil, false, err
		}
		if err := s.links.BackfillTx(ctx, tx, link, guard); err != nil {
			return nil, false, err
		}
		return link, false, nil
	}

	return s.links.UpsertByGuardTx(ctx, tx, guard)
}

// decorateRoles attaches the synced role associations to the returned link.
func (s *Service) decorateRoles(link *models.UserReference, roles []models.Role) {
	link.Roles = roles
	link.RoleIDs = models.RoleIDs(roles)
	link.PrimaryRole = PrimaryRoleOf(roles)
}

// Show resolves a link by id or external id and eager-loads the requested
// associations.
func (s *Service) Show(ctx context.Context, filter ShowFilter) (*models.UserReference, error) {
	ctx, span := tracing.StartSpan(ctx, "linkage.Service.Show")
	defer span.End()

	if filter.ID == "" && filter.ExternalID == "" {
		return nil, NewMissingIdentifier()
	}

	var link *models.UserReference
	var err error
	if filter.ID != "" {
		link, err = s.links.GetByID(ctx, filter.ID)
	} else {
		link, err = s.links.GetByExternalID(ctx, filter.ExternalID)
	}
	if err != nil {
		return nil, err
	}

	if filter.includes("roles") {
		roles, err := s.links.ListRoles(ctx, link.ID)
		if err != nil {
			return nil, err
		}
		s.decorateRoles(link, roles)
	}
	if filter.includes("user") && link.UserID != nil {
		user, err := s.users.GetByID(ctx, *link.UserID)
		if err != nil {
			return nil, err
		}
		link.User = user
	}
	if filter.includes("reference") && link.ReferenceType != nil && link.ReferenceID != nil {
		if err := s.loadReference(ctx, link); err != nil {
			return nil, err
		}
	}

	return link, nil
}

// loadReference fetches the reference payload when the type's handler supports
// loading. Handlers without the capability are skipped silently.
func (s *Service) loadReference(ctx context.Context, link *models.UserReference) error {
	handler, err := s.registry.Handler(*link.ReferenceType)
	if err != nil {
		return NewUnknownReferenceType(*link.ReferenceType, err)
	}

	loader, ok := handler.(reference.Loader)
	if !ok {
		return nil
	}

	payload, err := loader.Load(ctx, *link.ReferenceID)
	if err != nil {
		return NewDependency("reference.load", err)
	}
	link.Reference = payload
	return nil
}
