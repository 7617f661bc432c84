package repository

import (
	"context"

	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/models"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/frame/workerpool"
)

type followRepository struct {
	datastore.BaseRepository[*models.Follow]
}

// FollowersOf returns the IDs of every user following the given user.
func (fr *followRepository) FollowersOf(ctx context.Context, userID string) ([]string, error) {
	var followerIDs []string
	err := fr.Pool().DB(ctx, true).
		Model(&models.Follow{}).
		Where("followee_id = ?", userID).
		Pluck("follower_id", &followerIDs).Error
	return followerIDs, err
}

// NewFollowRepository creates a new follow repository instance.
func NewFollowRepository(ctx context.Context, dbPool pool.Pool, workMan workerpool.Manager) FollowRepository {
	return &followRepository{
		BaseRepository: datastore.NewBaseRepository[*models.Follow](
			ctx, dbPool, workMan, func() *models.Follow { return &models.Follow{} },
		),
	}
}
