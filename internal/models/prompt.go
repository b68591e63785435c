package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PromptTemplate is a reusable system prompt that may contain {{ keyword }} placeholders.
type PromptTemplate struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	ProjectID *uint     `json:"project_id" gorm:"index"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	Category  string    `json:"category" gorm:"size:50"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	Variables JSONMap   `json:"variables" gorm:"type:text"`
	IsDefault bool      `json:"is_default" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PromptTemplate) TableName() string { return "prompt_templates" }

// JSONMap stores an arbitrary JSON object in a text column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONMap source %T", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	out := JSONMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*m = out
	return nil
}
