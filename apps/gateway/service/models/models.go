package models

import (
	"time"

	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/business"
	"github.com/pitabwire/frame/data"
)

// User is the application account the gateway resolves credentials against.
type User struct {
	data.BaseModel
	FirebaseUID    string `gorm:"type:varchar(128);uniqueIndex:idx_firebase_uid"`
	DisplayName    string `gorm:"type:varchar(250)"`
	NativeLanguage string `gorm:"type:varchar(10)"`
	TargetLanguage string `gorm:"type:varchar(10)"`
	IsActive       bool
	Properties     data.JSONMap
}

// ToIdentity converts the stored user into the read only snapshot attached to
// authenticated connections.
func (u *User) ToIdentity() *business.Identity {
	if u == nil {
		return nil
	}

	return &business.Identity{
		ID:             u.GetID(),
		DisplayName:    u.DisplayName,
		NativeLanguage: u.NativeLanguage,
		TargetLanguage: u.TargetLanguage,
		IsActive:       u.IsActive,
	}
}

// Follow is a directed edge in the social graph: Follower follows Followee.
// Presence changes fan out along the reverse direction of these edges.
type Follow struct {
	data.BaseModel
	FollowerID string `gorm:"type:varchar(50);index:idx_follower_id"`
	FolloweeID string `gorm:"type:varchar(50);index:idx_followee_id"`
}

// ConversationParticipant records membership in a conversation. Room joins
// and message sends are authorized against these rows.
type ConversationParticipant struct {
	data.BaseModel
	ConversationID string `gorm:"type:varchar(50);index:idx_participant_conversation"`
	UserID         string `gorm:"type:varchar(50);index:idx_participant_user"`
	IsActive       bool
}

// Message is a persisted chat message. Persistence always precedes the room
// broadcast.
type Message struct {
	data.BaseModel
	ConversationID string `gorm:"type:varchar(50);index:idx_message_conversation"`
	SenderID       string `gorm:"type:varchar(50)"`
	Body           string `gorm:"type:text"`
	SentAt         time.Time
	Properties     data.JSONMap
}

// ToStored converts the persisted row into the broadcastable form.
func (m *Message) ToStored() *business.StoredMessage {
	if m == nil {
		return nil
	}

	return &business.StoredMessage{
		ID:             m.GetID(),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		SentAt:         m.SentAt,
	}
}
