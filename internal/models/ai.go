package models

import "time"

// AIProvider is an OpenAI-compatible endpoint. APIKey may hold a plain key or a
// secret reference such as "vault:deepseek" or "env:DEEPSEEK_API_KEY".
type AIProvider struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name" gorm:"size:100;not null"`
	BaseURL      string    `json:"base_url" gorm:"size:500;not null"`
	APIKey       string    `json:"-" gorm:"size:500"`
	DisplayOrder int       `json:"display_order" gorm:"default:0"`
	Enabled      bool      `json:"enabled" gorm:"default:true"`
	Models       []AIModel `json:"models,omitempty" gorm:"foreignKey:ProviderID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (AIProvider) TableName() string { return "ai_providers" }

// HasAPIKey reports whether a key or key reference is configured, without exposing it.
func (p AIProvider) HasAPIKey() bool { return p.APIKey != "" }

// AIModel is a model offered by a provider.
type AIModel struct {
	ID              uint        `json:"id" gorm:"primaryKey"`
	ProviderID      uint        `json:"provider_id" gorm:"not null;index"`
	Provider        *AIProvider `json:"provider,omitempty" gorm:"foreignKey:ProviderID"`
	Name            string      `json:"name" gorm:"size:100;not null"`
	ModelIdentifier string      `json:"model_identifier" gorm:"size:200;not null"`
	Temperature     float32     `json:"temperature" gorm:"default:0.7"`
	MaxTokens       int         `json:"max_tokens" gorm:"default:2000"`
	Enabled         bool        `json:"enabled" gorm:"default:true"`
	IsDefault       bool        `json:"is_default" gorm:"default:false"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func (AIModel) TableName() string { return "ai_models" }
