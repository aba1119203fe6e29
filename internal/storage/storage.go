package storage

import (
	"context"

	"github.com/xaenox/liveagent/internal/models"
)

// Storage is the persistence collaborator for interaction records and lead
// scores. The agent core only writes; it never reads this data back during
// message processing.
type Storage interface {
	SaveInteraction(ctx context.Context, interaction *models.InteractionResult) error
	UpdateLeadScore(ctx context.Context, sessionID, username string, score int) error
	RecentInteractions(ctx context.Context, sessionID string, limit int) ([]*models.InteractionResult, error)
	Close() error
}
