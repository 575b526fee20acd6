package repositories

import (
	"github.com/quartissimo/realtime/internal/models"
	"gorm.io/gorm"
)

// MessageQuery selects the messages visible to UserID. When PeerID is set
// only the direct conversation between the two users is returned.
type MessageQuery struct {
	UserID uint
	PeerID uint
	Page   int
	Limit  int
}

// MessageRepository defines the interface for message operations
type MessageRepository interface {
	CreateMessage(message *models.Message) error
	GetMessageByID(id uint) (*models.Message, error)
	ListForUser(q MessageQuery) ([]models.Message, int64, error)
	ListForGroup(groupID uint, limit int) ([]models.Message, error)
	UpdateStatus(id uint, status string) error
}

type postgresMessageRepository struct {
	db *gorm.DB
}

func NewPostgresMessageRepository(db *gorm.DB) MessageRepository {
	return &postgresMessageRepository{db: db}
}

func withParticipants(db *gorm.DB) *gorm.DB {
	return db.Preload("Sender").Preload("Receiver").Preload("Group")
}

func (r *postgresMessageRepository) CreateMessage(message *models.Message) error {
	if err := message.Validate(); err != nil {
		return err
	}
	if err := r.db.Create(message).Error; err != nil {
		return err
	}
	// reload so the response carries sender/receiver/group
	return withParticipants(r.db).First(message, message.ID).Error
}

func (r *postgresMessageRepository) GetMessageByID(id uint) (*models.Message, error) {
	var message models.Message
	if err := withParticipants(r.db).First(&message, id).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *postgresMessageRepository) ListForUser(q MessageQuery) ([]models.Message, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		if q.PeerID != 0 {
			return db.Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
				q.UserID, q.PeerID, q.PeerID, q.UserID)
		}
		return db.Where("sender_id = ? OR receiver_id = ?", q.UserID, q.UserID)
	}

	var total int64
	if err := r.db.Model(&models.Message{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var messages []models.Message
	offset := (q.Page - 1) * q.Limit
	err := withParticipants(r.db).Scopes(scope).
		Order("date_sent DESC, id DESC").
		Offset(offset).Limit(q.Limit).
		Find(&messages).Error

	return messages, total, err
}

func (r *postgresMessageRepository) ListForGroup(groupID uint, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := withParticipants(r.db).Where("group_id = ?", groupID).
		Order("date_sent DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *postgresMessageRepository) UpdateStatus(id uint, status string) error {
	res := r.db.Model(&models.Message{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
