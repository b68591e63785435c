package models

import "time"

// Project is the root of a novel.
type Project struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	Title         string    `json:"title" gorm:"size:200;not null;index"`
	Genre         string    `json:"genre" gorm:"size:50"`
	Description   string    `json:"description" gorm:"type:text"`
	Author        string    `json:"author" gorm:"size:100"`
	ExpectedWords int       `json:"expected_words"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Project) TableName() string { return "projects" }
func (Project) Kind() EntityKind { return KindProject }
func (p Project) DisplayKey() string { return p.Title }
func (p Project) Body() string { return firstNonEmpty(p.Description, p.Title) }

// Volume groups chapters.
type Volume struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ProjectID   uint      `json:"project_id" gorm:"not null;index"`
	Title       string    `json:"title" gorm:"size:200;not null"`
	Description string    `json:"description" gorm:"type:text"`
	Order       int       `json:"order" gorm:"column:sort_order;default:0"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Volume) TableName() string { return "volumes" }
func (Volume) Kind() EntityKind { return KindVolume }
func (v Volume) DisplayKey() string { return v.Title }
func (v Volume) Body() string { return firstNonEmpty(v.Description, v.Title) }

// Chapter holds manuscript text.
type Chapter struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	ProjectID uint      `json:"project_id" gorm:"not null;index"`
	VolumeID  *uint     `json:"volume_id" gorm:"index"`
	Title     string    `json:"title" gorm:"size:200;not null"`
	Content   string    `json:"content" gorm:"type:text"`
	WordCount int       `json:"word_count" gorm:"default:0"`
	Order     int       `json:"order" gorm:"column:sort_order;default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Chapter) TableName() string { return "chapters" }
func (Chapter) Kind() EntityKind { return KindChapter }
func (c Chapter) DisplayKey() string { return c.Title }
func (c Chapter) Body() string { return firstNonEmpty(c.Content, c.Title) }

// Worldview is the single world-building document of a project.
type Worldview struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	ProjectID uint      `json:"project_id" gorm:"not null;uniqueIndex"`
	Content   string    `json:"content" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Worldview) TableName() string { return "worldviews" }
func (Worldview) Kind() EntityKind { return KindWorldview }
func (Worldview) DisplayKey() string { return "世界观" }
func (w Worldview) Body() string { return w.Content }

// Resource is the shape shared by named world-building entries.
type Resource struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	ProjectID    uint      `json:"project_id" gorm:"not null;index"`
	Name         string    `json:"name" gorm:"size:200;not null"`
	Content      string    `json:"content" gorm:"type:text"`
	DisplayOrder int       `json:"display_order" gorm:"default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r Resource) DisplayKey() string { return r.Name }
func (r Resource) Body() string { return firstNonEmpty(r.Content, r.Name) }

type RPGCharacter struct{ Resource }

func (RPGCharacter) TableName() string { return "rpg_characters" }
func (RPGCharacter) Kind() EntityKind { return KindRPGCharacter }

type Organization struct{ Resource }

func (Organization) TableName() string { return "organizations" }
func (Organization) Kind() EntityKind { return KindOrganization }

type SupernaturalPower struct{ Resource }

func (SupernaturalPower) TableName() string { return "supernatural_powers" }
func (SupernaturalPower) Kind() EntityKind { return KindSupernaturalPower }

type Weapon struct{ Resource }

func (Weapon) TableName() string { return "weapons" }
func (Weapon) Kind() EntityKind { return KindWeapon }

type Dungeon struct{ Resource }

func (Dungeon) TableName() string { return "dungeons" }
func (Dungeon) Kind() EntityKind { return KindDungeon }
