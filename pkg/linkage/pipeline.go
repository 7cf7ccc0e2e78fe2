// Package linkage implements the user-reference linking engine: input
// normalization, the transactional store flow, role synchronization, and
// props merging.
package linkage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reference"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var validate = validator.New()

// Pipeline normalizes a raw store payload into an Input the store service can
// act on. Normalization runs in two phases: a pre phase that resolves
// identifiers against raw map keys, and a post phase that runs once the typed
// Input exists.
type Pipeline struct {
	links    LinkRepository
	roles    RoleLookup
	registry ReferenceRegistry
	logger   ectologger.Logger
}

func NewPipeline(links LinkRepository, roles RoleLookup, registry ReferenceRegistry, logger ectologger.Logger) *Pipeline {
	return &Pipeline{
		links:    links,
		roles:    roles,
		registry: registry,
		logger:   logger,
	}
}

// Normalize transforms the raw payload into a validated Input. The raw map is
// not mutated.
func (p *Pipeline) Normalize(ctx context.Context, raw map[string]any) (*Input, error) {
	ctx, span := tracing.StartSpan(ctx, "linkage.Pipeline.Normalize")
	defer span.End()

	data := make(map[string]any, len(raw))
	for k, v := range raw {
		data[k] = v
	}

	if err := p.backfillFromLink(ctx, data); err != nil {
		return nil, err
	}
	if err := p.inferReferenceType(ctx, data); err != nil {
		return nil, err
	}
	if tag, ok := data["reference_type"].(string); ok && tag != "" {
		data["reference_type"] = reference.CanonicalTag(tag)
	}

	_, hasRoles := data["roles"]
	_, hasRoleIDs := data["role_ids"]

	in, err := materialize(data)
	if err != nil {
		return nil, NewValidation(fmt.Sprintf("malformed payload: %v", err))
	}
	in.rolesProvided = hasRoles || hasRoleIDs

	if err := p.normalizeReference(ctx, in); err != nil {
		return nil, err
	}
	if in.UserID == "" && in.User != nil && in.User.ID != "" {
		in.UserID = in.User.ID
	}
	if !in.rolesProvided {
		return nil, NewValidation("either roles or role_ids is required", "roles", "role_ids")
	}
	if err := p.reconcileRoles(ctx, in); err != nil {
		return nil, err
	}

	if err := validate.Struct(in); err != nil {
		return nil, NewValidation(err.Error())
	}
	return in, nil
}

// backfillFromLink fills missing reference columns from an existing link when
// the payload addresses one by id.
func (p *Pipeline) backfillFromLink(ctx context.Context, data map[string]any) error {
	id, _ := data["id"].(string)
	if id == "" {
		return nil
	}

	link, err := p.links.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if _, ok := data["reference_id"]; !ok && link.ReferenceID != nil {
		data["reference_id"] = *link.ReferenceID
	}
	if _, ok := data["reference_type"]; !ok && link.ReferenceType != nil {
		data["reference_type"] = *link.ReferenceType
	}
	return nil
}

// inferReferenceType detects the reference type from the payload's keys: a key
// matching the snake_case form of a configured tag names the type, and its
// value becomes the reference payload. More than one matching key is
// ambiguous and rejected unless reference_type is already set.
func (p *Pipeline) inferReferenceType(ctx context.Context, data map[string]any) error {
	if _, ok := data["reference"]; ok {
		return nil
	}

	var matches []string
	for _, tag := range p.registry.Tags() {
		if _, ok := data[reference.SnakeTag(tag)]; ok {
			matches = append(matches, tag)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	if tag, _ := data["reference_type"].(string); tag != "" {
		canonical := reference.CanonicalTag(tag)
		for _, m := range matches {
			if m == canonical {
				data["reference"] = data[reference.SnakeTag(m)]
				return nil
			}
		}
		return nil
	}

	if len(matches) > 1 {
		sort.Strings(matches)
		keys := make([]string, 0, len(matches))
		for _, m := range matches {
			keys = append(keys, reference.SnakeTag(m))
		}
		return NewValidation("payload matches more than one reference type", keys...)
	}

	data["reference_type"] = matches[0]
	data["reference"] = data[reference.SnakeTag(matches[0])]
	return nil
}

// normalizeReference runs the registered handler's Normalize over the
// reference payload. A payload without a reference_type is left as-is;
// reference linkage is optional and resolution is skipped, not failed.
func (p *Pipeline) normalizeReference(ctx context.Context, in *Input) error {
	if in.Reference == nil || in.ReferenceType == "" {
		return nil
	}

	handler, err := p.registry.Handler(in.ReferenceType)
	if err != nil {
		return NewUnknownReferenceType(in.ReferenceType, err)
	}

	normalized, err := handler.Normalize(ctx, in.Reference)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"reference_type": in.ReferenceType,
		}).Error("failed to normalize reference payload")
		return NewDependency("reference.normalize", err)
	}
	in.Reference = normalized
	return nil
}

// reconcileRoles makes Roles and RoleIDs agree. Roles win when both are
// present; bare ids are resolved through the role lookup, preserving order.
func (p *Pipeline) reconcileRoles(ctx context.Context, in *Input) error {
	if len(in.Roles) > 0 {
		in.RoleIDs = models.RoleIDs(in.Roles)
		return nil
	}
	if len(in.RoleIDs) == 0 {
		return nil
	}

	roles, err := p.roles.FindByIDs(ctx, in.RoleIDs)
	if err != nil {
		return err
	}
	in.Roles = roles
	return nil
}

// materialize round-trips the map through json into the typed Input so nested
// structures and number types land in their Go shapes.
func materialize(data map[string]any) (*Input, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var in Input
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	return &in, nil
}
