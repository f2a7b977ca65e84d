package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noteduco342/OMChat-backend/internal/models"
)

type GroupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create inserts the group and its initial Members in one transaction.
func (r *GroupRepository) Create(ctx context.Context, group *models.Group) error {
	members := group.MemberIDs()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(group).Error; err != nil {
			return err
		}
		return insertMembers(tx, group.ID, members)
	})
	if err != nil {
		return wrap(err, "groupRepo.Create", "group")
	}

	for i := range group.Members {
		group.Members[i].GroupID = group.ID
	}
	return nil
}

func (r *GroupRepository) FindByID(ctx context.Context, id uint) (*models.Group, error) {
	var group models.Group
	err := r.db.WithContext(ctx).
		Preload("Admin").
		Preload("Members.User").
		First(&group, id).Error
	if err != nil {
		return nil, wrap(err, "groupRepo.FindByID", "group")
	}
	return &group, nil
}

// ListForUser returns the user's groups, most recently updated first.
func (r *GroupRepository) ListForUser(ctx context.Context, userID uint) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.WithContext(ctx).
		Joins("JOIN group_members ON group_members.group_id = groups.id").
		Where("group_members.user_id = ?", userID).
		Preload("Admin").
		Preload("Members.User").
		Order("groups.updated_at DESC").
		Find(&groups).Error
	return groups, wrap(err, "groupRepo.ListForUser", "group")
}

func (r *GroupRepository) IsMember(ctx context.Context, groupID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	return count > 0, wrap(err, "groupRepo.IsMember", "group")
}

func (r *GroupRepository) MemberIDs(ctx context.Context, groupID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ?", groupID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, wrap(err, "groupRepo.MemberIDs", "group")
}

// AddMembers is idempotent per member.
func (r *GroupRepository) AddMembers(ctx context.Context, groupID uint, userIDs []uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := insertMembers(tx, groupID, userIDs); err != nil {
			return err
		}
		return touch(tx, groupID)
	})
	return wrap(err, "groupRepo.AddMembers", "group")
}

func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).
			Delete(&models.GroupMember{}).Error; err != nil {
			return err
		}
		return touch(tx, groupID)
	})
	return wrap(err, "groupRepo.RemoveMember", "group")
}

func (r *GroupRepository) Update(ctx context.Context, group *models.Group) error {
	err := r.db.WithContext(ctx).Model(&models.Group{ID: group.ID}).
		Select("name", "description", "group_pic", "updated_at").
		Updates(map[string]interface{}{
			"name":        group.Name,
			"description": group.Description,
			"group_pic":   group.GroupPic,
			"updated_at":  time.Now(),
		}).Error
	return wrap(err, "groupRepo.Update", "group")
}

func (r *GroupRepository) DeleteCascade(ctx context.Context, groupID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`
			DELETE FROM message_reads
			WHERE message_id IN (SELECT id FROM messages WHERE group_id = ?)
		`, groupID).Error; err != nil {
			return errors.Wrap(err, "read markers")
		}
		// Replies from other conversations never point into a group, but
		// replies inside it do; clear them before the rows go.
		if err := tx.Exec(`UPDATE messages SET reply_to_id = NULL WHERE group_id = ?`, groupID).Error; err != nil {
			return errors.Wrap(err, "replies")
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&models.Message{}).Error; err != nil {
			return errors.Wrap(err, "messages")
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&models.GroupMember{}).Error; err != nil {
			return errors.Wrap(err, "members")
		}
		res := tx.Delete(&models.Group{}, groupID)
		if res.Error != nil {
			return errors.Wrap(res.Error, "group")
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return wrap(err, "groupRepo.DeleteCascade", "group")
}

func insertMembers(tx *gorm.DB, groupID uint, userIDs []uint) error {
	for _, userID := range userIDs {
		if err := tx.Exec(`
			INSERT INTO group_members (group_id, user_id, joined_at)
			VALUES (?, ?, NOW())
			ON CONFLICT (group_id, user_id) DO NOTHING
		`, groupID, userID).Error; err != nil {
			return err
		}
	}
	return nil
}

func touch(tx *gorm.DB, groupID uint) error {
	return tx.Exec(`UPDATE groups SET updated_at = NOW() WHERE id = ?`, groupID).Error
}
