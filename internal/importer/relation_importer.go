package importer

import (
	"context"
	"fmt"

	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/workitem"
)

// RelationImporter creates the relations listed on the last record of a group.
type RelationImporter struct {
	entities EntityService
}

// Import relates record's entity to every id in its related list. Ids not
// resolved in this run resolve to 0 and fail in the relation call.
func (i *RelationImporter) Import(ctx context.Context, record *Record, ids IDMap) error {
	if len(record.RelatedIDs) == 0 {
		return nil
	}

	actor, ok := record.Actor()
	if !ok {
		return fmt.Errorf("record %q (line %d) has no resolved actor", record.ID, record.Line)
	}

	fromID := ids.Resolve(record.ID)
	for _, related := range record.RelatedIDs {
		relation, err := i.entities.Relate(ctx, actor, fromID, ids.Resolve(related))
		if err != nil {
			if verr, ok := workitem.AsValidationError(err); ok {
				record.AddRelationCall(Failed[domain.Relation](verr.Messages...))
				continue
			}
			return fmt.Errorf("relate %q to %q: %w", record.ID, related, err)
		}
		record.AddRelationCall(Succeeded(relation))
	}
	return nil
}
