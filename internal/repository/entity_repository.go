package repository

import (
	"context"
	"fmt"
	"unicode/utf8"

	"storyforge/backend/internal/models"

	"gorm.io/gorm"
)

// Filter narrows an entity lookup.
type Filter struct {
	// ProjectID scopes the lookup. Ignored for projects.
	ProjectID *uint
	// Key is compared against the display key column.
	Key string
	// Prefix matches display keys starting with Key instead of equal to it.
	Prefix bool
}

// EntityRepository looks story resources up by display key.
type EntityRepository interface {
	FindOne(ctx context.Context, kind models.EntityKind, f Filter) (models.Entity, error)
	FindWorldview(ctx context.Context, projectID uint) (*models.Worldview, error)
}

type GormEntityRepository struct {
	db *gorm.DB
}

func NewGormEntityRepository(db *gorm.DB) *GormEntityRepository {
	return &GormEntityRepository{db: db}
}

// FindOne returns the first match in primary key order, or ErrNotFound.
func (r *GormEntityRepository) FindOne(ctx context.Context, kind models.EntityKind, f Filter) (models.Entity, error) {
	switch kind {
	case models.KindRPGCharacter:
		return findFirst[models.RPGCharacter](ctx, r.db, "name", f)
	case models.KindOrganization:
		return findFirst[models.Organization](ctx, r.db, "name", f)
	case models.KindSupernaturalPower:
		return findFirst[models.SupernaturalPower](ctx, r.db, "name", f)
	case models.KindWeapon:
		return findFirst[models.Weapon](ctx, r.db, "name", f)
	case models.KindDungeon:
		return findFirst[models.Dungeon](ctx, r.db, "name", f)
	case models.KindChapter:
		return findFirst[models.Chapter](ctx, r.db, "title", f)
	case models.KindVolume:
		return findFirst[models.Volume](ctx, r.db, "title", f)
	case models.KindProject:
		// Projects are not owned by a project.
		f.ProjectID = nil
		return findFirst[models.Project](ctx, r.db, "title", f)
	default:
		return nil, fmt.Errorf("unsupported entity kind %q", kind)
	}
}

func findFirst[T models.Entity](ctx context.Context, db *gorm.DB, keyColumn string, f Filter) (models.Entity, error) {
	q := db.WithContext(ctx)
	if f.ProjectID != nil {
		q = q.Where("project_id = ?", *f.ProjectID)
	}
	if f.Prefix {
		// substr counts characters on both Postgres and SQLite and compares case-sensitively.
		q = q.Where(fmt.Sprintf("substr(%s, 1, ?) = ?", keyColumn), utf8.RuneCountInString(f.Key), f.Key)
	} else {
		q = q.Where(fmt.Sprintf("%s = ?", keyColumn), f.Key)
	}

	var out T
	if err := q.First(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (r *GormEntityRepository) FindWorldview(ctx context.Context, projectID uint) (*models.Worldview, error) {
	var w models.Worldview
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).First(&w).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}
