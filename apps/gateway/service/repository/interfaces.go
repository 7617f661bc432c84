package repository

import (
	"context"

	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/business"
	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/models"
	"github.com/pitabwire/frame/datastore"
)

// UserRepository resolves credential subjects to application users. It
// satisfies business.IdentityLookup.
type UserRepository interface {
	datastore.BaseRepository[*models.User]
	FindByFirebaseUID(ctx context.Context, uid string) (*business.Identity, error)
	FindByID(ctx context.Context, id string) (*business.Identity, error)
}

// FollowRepository answers social graph queries. It satisfies
// business.SocialGraph.
type FollowRepository interface {
	datastore.BaseRepository[*models.Follow]
	FollowersOf(ctx context.Context, userID string) ([]string, error)
}

// ParticipantRepository answers conversation membership queries. It satisfies
// business.ConversationAccess.
type ParticipantRepository interface {
	datastore.BaseRepository[*models.ConversationParticipant]
	UserHasAccess(ctx context.Context, userID, conversationID string) (bool, error)
}

// MessageRepository persists chat messages. It satisfies
// business.MessageStore.
type MessageRepository interface {
	datastore.BaseRepository[*models.Message]
	SaveMessage(ctx context.Context, conversationID, senderID, body string) (*business.StoredMessage, error)
	GetByConversationID(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
}
