package repository

import (
	"context"

	"storyforge/backend/internal/models"

	"gorm.io/gorm"
)

type TemplateRepository interface {
	Get(ctx context.Context, id uint) (*models.PromptTemplate, error)
	ListByProject(ctx context.Context, projectID uint) ([]models.PromptTemplate, error)
}

type GormTemplateRepository struct {
	db *gorm.DB
}

func NewGormTemplateRepository(db *gorm.DB) *GormTemplateRepository {
	return &GormTemplateRepository{db: db}
}

func (r *GormTemplateRepository) Get(ctx context.Context, id uint) (*models.PromptTemplate, error) {
	var t models.PromptTemplate
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// ListByProject returns the project's own templates followed by the global ones.
func (r *GormTemplateRepository) ListByProject(ctx context.Context, projectID uint) ([]models.PromptTemplate, error) {
	var ts []models.PromptTemplate
	err := r.db.WithContext(ctx).
		Where("project_id = ? OR project_id IS NULL", projectID).
		Order("CASE WHEN project_id IS NULL THEN 1 ELSE 0 END").
		Order("id ASC").
		Find(&ts).Error
	return ts, err
}
