package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/noteduco342/OMChat-backend/internal/models"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *models.Message) error {
	if err := message.Validate(); err != nil {
		return err
	}
	err := r.db.WithContext(ctx).
		Omit("Sender", "Group", "ReplyTo", "ReadBy").
		Create(message).Error
	return wrap(err, "messageRepo.Create", "message")
}

func (r *MessageRepository) FindByID(ctx context.Context, id uint) (*models.Message, error) {
	var message models.Message
	err := r.withRelations(ctx).First(&message, id).Error
	if err != nil {
		return nil, wrap(err, "messageRepo.FindByID", "message")
	}
	return &message, nil
}

func (r *MessageRepository) FindByIDs(ctx context.Context, ids []uint) ([]models.Message, error) {
	var messages []models.Message
	if len(ids) == 0 {
		return messages, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&messages).Error
	return messages, wrap(err, "messageRepo.FindByIDs", "message")
}

// FindConversation returns the whole conversation oldest first. Reply targets
// are loaded one level deep.
func (r *MessageRepository) FindConversation(ctx context.Context, reader uint, key models.ConversationKey) ([]models.Message, error) {
	var messages []models.Message
	err := scopeConversation(r.withRelations(ctx), reader, key).
		Order("messages.created_at ASC, messages.id ASC").
		Find(&messages).Error
	return messages, wrap(err, "messageRepo.FindConversation", "conversation")
}

// FindUnread returns up to limit of the newest messages reader has not read,
// oldest first.
func (r *MessageRepository) FindUnread(ctx context.Context, reader uint, key models.ConversationKey, limit int) ([]models.Message, error) {
	var messages []models.Message
	q := scopeUnread(r.db.WithContext(ctx), reader, key).
		Order("messages.created_at DESC, messages.id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&messages).Error; err != nil {
		return nil, wrap(err, "messageRepo.FindUnread", "conversation")
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, reader uint, key models.ConversationKey) (int64, error) {
	var count int64
	err := scopeUnread(r.db.WithContext(ctx).Model(&models.Message{}), reader, key).
		Count(&count).Error
	return count, wrap(err, "messageRepo.CountUnread", "conversation")
}

func (r *MessageRepository) MarkRead(ctx context.Context, ids []uint, reader uint, readAt time.Time) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.WithContext(ctx).Raw(`
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT m.id, ?, ?
		FROM messages m
		WHERE m.id IN ? AND m.sender_id <> ?
		ON CONFLICT (message_id, user_id) DO NOTHING
		RETURNING message_id
	`, reader, readAt, ids, reader).Rows()
	if err != nil {
		return nil, errors.Wrap(err, "messageRepo.MarkRead")
	}
	defer rows.Close()

	mutated := make([]uint, 0, len(ids))
	for rows.Next() {
		var id uint
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "messageRepo.MarkRead: scan")
		}
		mutated = append(mutated, id)
	}
	return mutated, errors.Wrap(rows.Err(), "messageRepo.MarkRead: rows")
}

func (r *MessageRepository) withRelations(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Sender").
		Preload("ReadBy").
		Preload("ReplyTo")
}

func scopeConversation(q *gorm.DB, reader uint, key models.ConversationKey) *gorm.DB {
	if key.IsGroup {
		return q.Where("messages.group_id = ?", key.ID)
	}
	return q.Where(
		"(messages.sender_id = ? AND messages.recipient_id = ?) OR (messages.sender_id = ? AND messages.recipient_id = ?)",
		reader, key.ID, key.ID, reader,
	)
}

// scopeUnread keeps messages in key that reader did not author and has not read.
func scopeUnread(q *gorm.DB, reader uint, key models.ConversationKey) *gorm.DB {
	if key.IsGroup {
		q = q.Where("messages.group_id = ? AND messages.sender_id <> ?", key.ID, reader)
	} else {
		q = q.Where("messages.sender_id = ? AND messages.recipient_id = ?", key.ID, reader)
	}
	return q.Where(
		"NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = messages.id AND mr.user_id = ?)",
		reader,
	)
}
