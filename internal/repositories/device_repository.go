package repositories

import (
	"github.com/quartissimo/realtime/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceRepository stores push registration tokens
type DeviceRepository interface {
	Upsert(device *models.DeviceToken) error
	TokensForUser(userID uint) ([]string, error)
	DeleteTokens(tokens []string) error
}

type postgresDeviceRepository struct {
	db *gorm.DB
}

func NewPostgresDeviceRepository(db *gorm.DB) DeviceRepository {
	return &postgresDeviceRepository{db: db}
}

// Upsert registers the token, moving it to device.UserID if another user held it.
func (r *postgresDeviceRepository) Upsert(device *models.DeviceToken) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "updated_at"}),
	}).Create(device).Error
}

func (r *postgresDeviceRepository) TokensForUser(userID uint) ([]string, error) {
	var tokens []string
	err := r.db.Model(&models.DeviceToken{}).Where("user_id = ?", userID).Pluck("token", &tokens).Error
	return tokens, err
}

func (r *postgresDeviceRepository) DeleteTokens(tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	return r.db.Where("token IN ?", tokens).Delete(&models.DeviceToken{}).Error
}
