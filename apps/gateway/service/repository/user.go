package repository

import (
	"context"
	"errors"

	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/business"
	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/models"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/frame/workerpool"
	"gorm.io/gorm"
)

type userRepository struct {
	datastore.BaseRepository[*models.User]
}

// FindByFirebaseUID resolves a verified token subject to an application user.
// An unknown subject yields a nil identity, not an error.
func (ur *userRepository) FindByFirebaseUID(ctx context.Context, uid string) (*business.Identity, error) {
	user := &models.User{}
	err := ur.Pool().DB(ctx, true).
		Where("firebase_uid = ?", uid).
		First(user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user.ToIdentity(), nil
}

// FindByID resolves a user primary key, used by the test credential path.
func (ur *userRepository) FindByID(ctx context.Context, id string) (*business.Identity, error) {
	user := &models.User{}
	err := ur.Pool().DB(ctx, true).
		First(user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user.ToIdentity(), nil
}

// NewUserRepository creates a new user repository instance.
func NewUserRepository(ctx context.Context, dbPool pool.Pool, workMan workerpool.Manager) UserRepository {
	return &userRepository{
		BaseRepository: datastore.NewBaseRepository[*models.User](
			ctx, dbPool, workMan, func() *models.User { return &models.User{} },
		),
	}
}
