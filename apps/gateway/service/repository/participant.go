package repository

import (
	"context"

	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/models"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/frame/workerpool"
)

type participantRepository struct {
	datastore.BaseRepository[*models.ConversationParticipant]
}

// UserHasAccess reports whether the user is an active participant of the
// conversation.
func (pr *participantRepository) UserHasAccess(ctx context.Context, userID, conversationID string) (bool, error) {
	var count int64
	err := pr.Pool().DB(ctx, true).
		Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, userID, true).
		Count(&count).Error
	return count > 0, err
}

// NewParticipantRepository creates a new conversation participant repository instance.
func NewParticipantRepository(ctx context.Context, dbPool pool.Pool, workMan workerpool.Manager) ParticipantRepository {
	return &participantRepository{
		BaseRepository: datastore.NewBaseRepository[*models.ConversationParticipant](
			ctx, dbPool, workMan, func() *models.ConversationParticipant { return &models.ConversationParticipant{} },
		),
	}
}
