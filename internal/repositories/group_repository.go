package repositories

import (
	"github.com/quartissimo/realtime/internal/models"
	"gorm.io/gorm"
)

// GroupRepository defines the interface for message group lookups
type GroupRepository interface {
	GetGroupByID(id uint) (*models.Group, error)
	GetUserGroups(userID uint) ([]models.Group, error)
	IsMember(groupID, userID uint) (bool, error)
	MemberIDs(groupID uint) ([]uint, error)
}

// PostgresGroupRepository implements GroupRepository for PostgreSQL
type PostgresGroupRepository struct {
	db *gorm.DB
}

// NewPostgresGroupRepository creates a new PostgresGroupRepository
func NewPostgresGroupRepository(db *gorm.DB) *PostgresGroupRepository {
	return &PostgresGroupRepository{db: db}
}

// GetGroupByID retrieves a group by ID
func (r *PostgresGroupRepository) GetGroupByID(id uint) (*models.Group, error) {
	var group models.Group
	if err := r.db.First(&group, id).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

// GetUserGroups retrieves the groups a user belongs to
func (r *PostgresGroupRepository) GetUserGroups(userID uint) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.Joins("JOIN message_group_members ON message_group_members.group_id = message_groups.id").
		Where("message_group_members.user_id = ?", userID).
		Order("message_groups.name").
		Find(&groups).Error
	return groups, err
}

// IsMember reports whether userID belongs to groupID
func (r *PostgresGroupRepository) IsMember(groupID, userID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	return count > 0, err
}

// MemberIDs lists the user ids of a group
func (r *PostgresGroupRepository) MemberIDs(groupID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.GroupMember{}).
		Where("group_id = ?", groupID).
		Pluck("user_id", &ids).Error
	return ids, err
}
