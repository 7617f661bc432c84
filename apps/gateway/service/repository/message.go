package repository

import (
	"context"
	"time"

	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/business"
	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/models"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/frame/workerpool"
)

type messageRepository struct {
	datastore.BaseRepository[*models.Message]
}

// SaveMessage persists a chat message and returns its broadcastable form.
func (mr *messageRepository) SaveMessage(
	ctx context.Context,
	conversationID, senderID, body string,
) (*business.StoredMessage, error) {
	message := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		SentAt:         time.Now().UTC(),
	}

	if err := mr.Save(ctx, message); err != nil {
		return nil, err
	}

	return message.ToStored(), nil
}

// GetByConversationID retrieves the most recent messages in a conversation.
func (mr *messageRepository) GetByConversationID(
	ctx context.Context,
	conversationID string,
	limit int,
) ([]*models.Message, error) {
	var messages []*models.Message
	err := mr.Pool().DB(ctx, true).
		Where("conversation_id = ?", conversationID).
		Order("sent_at DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// NewMessageRepository creates a new message repository instance.
func NewMessageRepository(ctx context.Context, dbPool pool.Pool, workMan workerpool.Manager) MessageRepository {
	return &messageRepository{
		BaseRepository: datastore.NewBaseRepository[*models.Message](
			ctx, dbPool, workMan, func() *models.Message { return &models.Message{} },
		),
	}
}
