// Package events publishes link lifecycle events after successful stores.
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Emitter publishes link events through the Kafka producer.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitLinkStored publishes link.created or link.updated for a stored link.
func (e *Emitter) EmitLinkStored(ctx context.Context, link *models.UserReference, created bool) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitLinkStored")
	defer span.End()

	eventType := "link.updated"
	if created {
		eventType = "link.created"
	}

	event := &kafka.LinkEvent{
		EventType:  eventType,
		LinkID:     link.ID,
		ExternalID: link.ExternalID,
		RoleIDs:    link.RoleIDs,
	}
	if link.UserID != nil {
		event.UserID = *link.UserID
	}
	if link.ReferenceType != nil {
		event.ReferenceType = *link.ReferenceType
	}
	if link.ReferenceID != nil {
		event.ReferenceID = *link.ReferenceID
	}
	if link.WorkspaceType != nil {
		event.WorkspaceType = *link.WorkspaceType
	}
	if link.WorkspaceID != nil {
		event.WorkspaceID = *link.WorkspaceID
	}

	return e.producer.PublishLinkEvent(ctx, event)
}
