package linkage

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// PropsMerger shallow-merges incoming props into a link's stored props map.
// Incoming keys win; keys absent from the input are left untouched. A nil
// props map is a no-op, an empty map is too.
type PropsMerger struct {
	links  LinkRepository
	logger ectologger.Logger
}

func NewPropsMerger(links LinkRepository, logger ectologger.Logger) *PropsMerger {
	return &PropsMerger{
		links:  links,
		logger: logger,
	}
}

func (m *PropsMerger) MergeTx(ctx context.Context, tx database.Tx, link *models.UserReference, props map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "linkage.PropsMerger.MergeTx")
	defer span.End()

	if len(props) == 0 {
		return nil
	}

	merged, err := m.links.MergePropsTx(ctx, tx, link.ID, props)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"link_id": link.ID,
		}).Error("failed to merge props")
		return err
	}
	link.Props = database.JSONB[map[string]any]{Data: merged}
	return nil
}

// MergeProps is the pure form of the merge used outside the database path:
// src keys overwrite dst keys at the top level only. Neither input is mutated.
func MergeProps(dst, src map[string]any) map[string]any {
	merged := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		merged[k] = v
	}
	for k, v := range src {
		merged[k] = v
	}
	return merged
}
