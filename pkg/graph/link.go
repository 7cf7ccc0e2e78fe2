package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// LinkService mirrors stored links into the graph as
// (User)-[:HAS_REFERENCE]->(<ReferenceType>) for relationship queries.
type LinkService struct {
	client *Client
	logger ectologger.Logger
}

// NewLinkService creates a new link projection service
func NewLinkService(client *Client, logger ectologger.Logger) *LinkService {
	return &LinkService{
		client: client,
		logger: logger,
	}
}

// ProjectLink creates or updates the link's graph representation. Links
// without both a user and a reference have no graph shape and are skipped.
func (s *LinkService) ProjectLink(ctx context.Context, link *models.UserReference) error {
	ctx, span := tracing.StartSpan(ctx, "graph.LinkService.ProjectLink")
	defer span.End()

	if link.UserID == nil || link.ReferenceType == nil || link.ReferenceID == nil {
		return nil
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"link_id":        link.ID,
		"user_id":        *link.UserID,
		"reference_type": *link.ReferenceType,
		"reference_id":   *link.ReferenceID,
	})

	props := map[string]any{
		"id":          link.ID,
		"external_id": link.ExternalID,
	}
	if link.WorkspaceType != nil {
		props["workspace_type"] = *link.WorkspaceType
	}
	if link.WorkspaceID != nil {
		props["workspace_id"] = *link.WorkspaceID
	}

	cypher := fmt.Sprintf(`
		MERGE (u:User {id: $user_id})
		MERGE (ref:%s {id: $reference_id})
		MERGE (u)-[r:HAS_REFERENCE {id: $link_id}]->(ref)
		SET r += $props
		RETURN r
	`, sanitizeLabel(*link.ReferenceType))

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"user_id":      *link.UserID,
			"reference_id": *link.ReferenceID,
			"link_id":      link.ID,
			"props":        props,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		log.WithError(err).Error("Failed to project link to graph")
		return err
	}

	log.Debug("Projected link to graph")
	return nil
}

// GetUserReferences returns the relationship properties of every reference a
// user is linked to.
func (s *LinkService) GetUserReferences(ctx context.Context, userID string) ([]map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.LinkService.GetUserReferences")
	defer span.End()

	cypher := `
		MATCH (u:User {id: $user_id})-[r:HAS_REFERENCE]->(ref)
		RETURN r
	`

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"user_id": userID,
		})
		if err != nil {
			return nil, err
		}

		var links []map[string]any
		for result.Next(ctx) {
			record := result.Record()
			relNode, _ := record.Get("r")
			r := relNode.(neo4j.Relationship)
			links = append(links, r.Props)
		}
		return links, result.Err()
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"user_id": userID}).Error("Failed to get user references from graph")
		return nil, err
	}
	return res.([]map[string]any), nil
}

func sanitizeLabel(label string) string {
	// Only allow alphanumeric and underscore
	result := ""
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result += string(c)
		}
	}
	if result == "" {
		return "Reference"
	}
	return result
}
