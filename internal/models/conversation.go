package models

import "time"

// Message roles persisted in a conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation groups the turns of one chat.
type Conversation struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	ProjectID *uint     `json:"project_id" gorm:"index"`
	Title     string    `json:"title" gorm:"size:200"`
	Messages  []Message `json:"messages,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

// Message is one persisted turn. Role is stored as given.
type Message struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ConversationID uint      `json:"conversation_id" gorm:"not null;index"`
	Role           string    `json:"role" gorm:"size:20;not null"`
	Content        string    `json:"content" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// All lists every persisted model, in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&Project{},
		&Volume{},
		&Chapter{},
		&Worldview{},
		&RPGCharacter{},
		&Organization{},
		&SupernaturalPower{},
		&Weapon{},
		&Dungeon{},
		&PromptTemplate{},
		&AIProvider{},
		&AIModel{},
		&Conversation{},
		&Message{},
	}
}
