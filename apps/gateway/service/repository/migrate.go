package repository

import (
	"context"

	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/models"
	"github.com/pitabwire/frame"
)

func Migrate(ctx context.Context, svc *frame.Service, migrationPath string) error {
	return svc.MigrateDatastore(ctx, migrationPath,
		&models.User{}, &models.Follow{}, &models.ConversationParticipant{}, &models.Message{})
}
