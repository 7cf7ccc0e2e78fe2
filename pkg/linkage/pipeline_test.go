package linkage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reference"
)

func newTestPipeline(t *testing.T, links *memLinks, roles *fakeRoles, tags ...string) (*Pipeline, *fakeHandler) {
	t.Helper()

	registry := reference.NewRegistry()
	handler := &fakeHandler{}
	for _, tag := range tags {
		require.NoError(t, registry.Register(tag, handler))
	}

	if links == nil {
		links = newMemLinks()
	}
	if roles == nil {
		roles = &fakeRoles{byID: map[string]models.Role{}}
	}

	return NewPipeline(links, roles, registry, silentLogger()), handler
}

func TestNormalize_InfersReferenceTypeFromPayloadKey(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil, nil, "PatientRecord")

	raw := map[string]any{
		"patient_record": map[string]any{"mrn": "12345"},
		"role_ids":       []any{},
	}

	in, err := pipeline.Normalize(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, "PatientRecord", in.ReferenceType)
	require.NotNil(t, in.Reference)
	assert.Equal(t, "12345", in.Reference["mrn"])
	assert.Equal(t, true, in.Reference["normalized"])
}

func TestNormalize_AmbiguousReferenceTypeIsRejected(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil, nil, "PatientRecord", "DeviceRecord")

	raw := map[string]any{
		"patient_record": map[string]any{"mrn": "12345"},
		"device_record":  map[string]any{"serial": "abc"},
		"role_ids":       []any{},
	}

	_, err := pipeline.Normalize(context.Background(), raw)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation))
	assert.Contains(t, err.Error(), "more than one reference type")
}

func TestNormalize_ExplicitTypeDisambiguates(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil, nil, "PatientRecord", "DeviceRecord")

	raw := map[string]any{
		"reference_type": "device_record",
		"patient_record": map[string]any{"mrn": "12345"},
		"device_record":  map[string]any{"serial": "abc"},
		"role_ids":       []any{},
	}

	in, err := pipeline.Normalize(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, "DeviceRecord", in.ReferenceType)
	assert.Equal(t, "abc", in.Reference["serial"])
}

func TestNormalize_CanonicalizesReferenceType(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil, nil, "PatientRecord")

	raw := map[string]any{
		"reference_type": "patient-record",
		"reference_id":   "ref-1",
		"role_ids":       []any{},
	}

	in, err := pipeline.Normalize(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "PatientRecord", in.ReferenceType)
}

func TestNormalize_BackfillsFromExistingLink(t *testing.T) {
	links := newMemLinks()
	refType := "PatientRecord"
	refID := "ref-9"
	linkID := uuid.New().String()
	links.seed(&models.UserReference{
		ID:            linkID,
		ExternalID:    uuid.New().String(),
		ReferenceType: &refType,
		ReferenceID:   &refID,
	})

	pipeline, _ := newTestPipeline(t, links, nil, "PatientRecord")

	raw := map[string]any{
		"id":       linkID,
		"role_ids": []any{},
	}

	in, err := pipeline.Normalize(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, linkID, in.ID)
	assert.Equal(t, "PatientRecord", in.ReferenceType)
	assert.Equal(t, "ref-9", in.ReferenceID)
}

func TestNormalize_UnknownLinkIDFails(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil, nil, "PatientRecord")

	_, err := pipeline.Normalize(context.Background(), map[string]any{
		"id":       uuid.New().String(),
		"role_ids": []any{},
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestNormalize_ReferenceWithoutTypeIsLeftUnresolved(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil, nil, "PatientRecord")

	in, err := pipeline.Normalize(context.Background(), map[string]any{
		"reference": map[string]any{"mrn": "12345"},
		"role_ids":  []any{},
	})
	require.NoError(t, err)

	assert.Empty(t, in.ReferenceType)
	require.NotNil(t, in.Reference)
	assert.Equal(t, "12345", in.Reference["mrn"])
	assert.NotContains(t, in.Reference, "normalized")
}

func TestNormalize_UnknownReferenceType(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil, nil, "PatientRecord")

	raw := map[string]any{
		"reference_type": "Mystery",
		"reference":      map[string]any{"x": 1},
		"role_ids":       []any{},
	}

	_, err := pipeline.Normalize(context.Background(), raw)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUnknownReferenceType))
}

func TestNormalize_RequiresRolesOrRoleIDs(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil, nil, "PatientRecord")

	_, err := pipeline.Normalize(context.Background(), map[string]any{
		"reference_type": "PatientRecord",
		"reference_id":   "ref-1",
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation))
	assert.Contains(t, err.Error(), "roles")
}

func TestNormalize_ExplicitEmptyRoleListIsLegal(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil, nil, "PatientRecord")

	in, err := pipeline.Normalize(context.Background(), map[string]any{
		"reference_type": "PatientRecord",
		"reference_id":   "ref-1",
		"roles":          []any{},
	})
	require.NoError(t, err)
	assert.Empty(t, in.Roles)
	assert.Empty(t, in.RoleIDs)
}

func TestNormalize_ReconcilesRoleIDsToRoles(t *testing.T) {
	adminID := uuid.New().String()
	viewerID := uuid.New().String()
	roles := &fakeRoles{byID: map[string]models.Role{
		adminID:  {ID: adminID, Name: "admin"},
		viewerID: {ID: viewerID, Name: "viewer"},
	}}

	pipeline, _ := newTestPipeline(t, nil, roles, "PatientRecord")

	in, err := pipeline.Normalize(context.Background(), map[string]any{
		"reference_type": "PatientRecord",
		"reference_id":   "ref-1",
		"role_ids":       []any{viewerID, adminID},
	})
	require.NoError(t, err)

	require.Len(t, in.Roles, 2)
	assert.Equal(t, "viewer", in.Roles[0].Name)
	assert.Equal(t, "admin", in.Roles[1].Name)
	assert.Equal(t, []string{viewerID, adminID}, in.RoleIDs)
}

func TestNormalize_RolesWinOverRoleIDs(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil, nil, "PatientRecord")

	adminID := uuid.New().String()
	in, err := pipeline.Normalize(context.Background(), map[string]any{
		"reference_type": "PatientRecord",
		"reference_id":   "ref-1",
		"roles":          []any{map[string]any{"id": adminID, "name": "admin"}},
		"role_ids":       []any{uuid.New().String()},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{adminID}, in.RoleIDs)
}

func TestNormalize_MissingRoleIDs(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil, &fakeRoles{byID: map[string]models.Role{}}, "PatientRecord")

	missing := uuid.New().String()
	_, err := pipeline.Normalize(context.Background(), map[string]any{
		"reference_type": "PatientRecord",
		"reference_id":   "ref-1",
		"role_ids":       []any{missing},
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
	assert.Contains(t, err.Error(), missing)
}

func TestNormalize_BackfillsUserIDFromUserPayload(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil, nil, "PatientRecord")

	userID := uuid.New().String()
	in, err := pipeline.Normalize(context.Background(), map[string]any{
		"reference_type": "PatientRecord",
		"reference_id":   "ref-1",
		"user":           map[string]any{"id": userID},
		"role_ids":       []any{},
	})
	require.NoError(t, err)
	assert.Equal(t, userID, in.UserID)
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil, nil, "PatientRecord")

	raw := map[string]any{
		"patient_record": map[string]any{"mrn": "12345"},
		"role_ids":       []any{},
	}

	_, err := pipeline.Normalize(context.Background(), raw)
	require.NoError(t, err)

	assert.NotContains(t, raw, "reference_type")
	assert.NotContains(t, raw, "reference")
}

func TestNormalize_RejectsMalformedID(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil, nil, "PatientRecord")

	_, err := pipeline.Normalize(context.Background(), map[string]any{
		"user_id":        "not-a-uuid",
		"reference_type": "PatientRecord",
		"reference_id":   "ref-1",
		"role_ids":       []any{},
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation))
}
