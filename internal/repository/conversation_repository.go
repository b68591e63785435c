package repository

import (
	"context"
	"time"

	"storyforge/backend/internal/models"

	"gorm.io/gorm"
)

// ConversationRepository is the append-only conversation log.
type ConversationRepository interface {
	Create(ctx context.Context, title string, projectID *uint) (*models.Conversation, error)
	Get(ctx context.Context, id uint) (*models.Conversation, error)
	List(ctx context.Context, projectID *uint) ([]models.Conversation, error)
	Rename(ctx context.Context, id uint, title string) (*models.Conversation, error)
	Delete(ctx context.Context, id uint) error
	AppendMessage(ctx context.Context, conversationID uint, role, content string) (*models.Message, error)
	Messages(ctx context.Context, conversationID uint) ([]models.Message, error)
}

type GormConversationRepository struct {
	db *gorm.DB
}

func NewGormConversationRepository(db *gorm.DB) *GormConversationRepository {
	return &GormConversationRepository{db: db}
}

func (r *GormConversationRepository) Create(ctx context.Context, title string, projectID *uint) (*models.Conversation, error) {
	conv := &models.Conversation{Title: title, ProjectID: projectID}
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *GormConversationRepository) Get(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.db.WithContext(ctx).First(&conv, id).Error; err != nil {
		return nil, translate(err)
	}
	return &conv, nil
}

// List returns conversations, most recently active first.
func (r *GormConversationRepository) List(ctx context.Context, projectID *uint) ([]models.Conversation, error) {
	q := r.db.WithContext(ctx).Order("updated_at DESC").Order("id DESC")
	if projectID != nil {
		q = q.Where("project_id = ?", *projectID)
	}
	var convs []models.Conversation
	err := q.Find(&convs).Error
	return convs, err
}

func (r *GormConversationRepository) Rename(ctx context.Context, id uint, title string) (*models.Conversation, error) {
	conv, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(conv).Update("title", title).Error; err != nil {
		return nil, err
	}
	return conv, nil
}

// Delete removes the conversation and its messages.
func (r *GormConversationRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Conversation{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// AppendMessage stores a turn and bumps the conversation's activity time.
func (r *GormConversationRepository) AppendMessage(ctx context.Context, conversationID uint, role, content string) (*models.Message, error) {
	msg := &models.Message{ConversationID: conversationID, Role: role, Content: content}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Messages returns the turns of a conversation in insertion order.
func (r *GormConversationRepository) Messages(ctx context.Context, conversationID uint) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}
