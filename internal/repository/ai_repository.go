package repository

import (
	"context"

	"storyforge/backend/internal/models"

	"gorm.io/gorm"
)

type AIRepository interface {
	GetModel(ctx context.Context, id uint) (*models.AIModel, error)
	GetProvider(ctx context.Context, id uint) (*models.AIProvider, error)
	ListProviders(ctx context.Context) ([]models.AIProvider, error)
	ListModels(ctx context.Context, providerID uint) ([]models.AIModel, error)
}

type GormAIRepository struct {
	db *gorm.DB
}

func NewGormAIRepository(db *gorm.DB) *GormAIRepository {
	return &GormAIRepository{db: db}
}

// GetModel loads a model together with its provider.
func (r *GormAIRepository) GetModel(ctx context.Context, id uint) (*models.AIModel, error) {
	var m models.AIModel
	if err := r.db.WithContext(ctx).Preload("Provider").First(&m, id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *GormAIRepository) GetProvider(ctx context.Context, id uint) (*models.AIProvider, error) {
	var p models.AIProvider
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *GormAIRepository) ListProviders(ctx context.Context) ([]models.AIProvider, error) {
	var ps []models.AIProvider
	err := r.db.WithContext(ctx).Order("display_order ASC").Order("id ASC").Find(&ps).Error
	return ps, err
}

func (r *GormAIRepository) ListModels(ctx context.Context, providerID uint) ([]models.AIModel, error) {
	var ms []models.AIModel
	err := r.db.WithContext(ctx).
		Where("provider_id = ?", providerID).
		Order("is_default DESC").
		Order("id ASC").
		Find(&ms).Error
	return ms, err
}
