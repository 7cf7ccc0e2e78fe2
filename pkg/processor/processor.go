// Package processor handles incoming store requests from the message bus and
// feeds them through the normalization pipeline into the link store service.
package processor

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/linkage"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Processor consumes store requests off the bus
type Processor struct {
	logger   ectologger.Logger
	pipeline *linkage.Pipeline
	service  *linkage.Service
}

// NewProcessor creates a new store request processor
func NewProcessor(logger ectologger.Logger, pipeline *linkage.Pipeline, service *linkage.Service) *Processor {
	return &Processor{
		logger:   logger,
		pipeline: pipeline,
		service:  service,
	}
}

// HandleMessage normalizes and stores a single bus message. Validation
// failures are terminal and reported as handled so the offset commits;
// dependency failures return the error so the message is redelivered.
func (p *Processor) HandleMessage(ctx context.Context, msg *kafka.StoreMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.HandleMessage")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":  msg.Topic,
		"offset": msg.Offset,
	})

	in, err := p.pipeline.Normalize(ctx, msg.Attributes)
	if err != nil {
		if linkage.IsKind(err, linkage.KindDependency) || linkage.IsKind(err, linkage.KindConflict) {
			return err
		}
		log.WithError(err).Error("Dropping unprocessable store request")
		return nil
	}

	link, err := p.service.Store(ctx, in)
	if err != nil {
		if linkage.IsKind(err, linkage.KindDependency) || linkage.IsKind(err, linkage.KindConflict) {
			return err
		}
		log.WithError(err).Error("Dropping store request rejected by the engine")
		return nil
	}

	log.WithFields(map[string]any{"link_id": link.ID}).Debug("Stored link from bus")
	return nil
}
