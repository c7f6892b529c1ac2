package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/faceprofiles/internal/models"
	"github.com/your-org/faceprofiles/internal/observability"
)

// Marker records that a profile was seen at an index version. It reports
// false when nothing changed.
type Marker interface {
	MarkIndexed(ctx context.Context, profileID, companyID uuid.UUID, indexVersion int) (bool, error)
}

// Indexer keeps the indexed/index_version bookkeeping in step with profile
// events. The hnsw index on face_profiles.embedding covers a row from insert;
// indexed=true only records that this worker has seen the active row, with an
// embedding, at its configured index_version.
type Indexer struct {
	store   Marker
	version int
}

func New(store Marker, version int) *Indexer {
	return &Indexer{store: store, version: version}
}

// Handle processes one profile event. Deletions need no work here: soft
// delete already clears the flag and hard delete removes the row.
func (ix *Indexer) Handle(ctx context.Context, ev models.ProfileEvent) error {
	switch ev.Type {
	case models.ProfileEnrolled, models.ProfilePrimaryChanged:
	case models.ProfileDeleted:
		return nil
	default:
		slog.Warn("unknown profile event type", "type", ev.Type, "profile_id", ev.ProfileID)
		return nil
	}

	marked, err := ix.store.MarkIndexed(ctx, ev.ProfileID, ev.CompanyID, ix.version)
	if err != nil {
		return fmt.Errorf("mark profile %s indexed: %w", ev.ProfileID, err)
	}
	if !marked {
		slog.Debug("profile gone or already recorded", "profile_id", ev.ProfileID, "index_version", ix.version)
		return nil
	}
	observability.ProfilesIndexed.Inc()
	return nil
}
