package prompt

import (
	"context"
	"errors"
	"fmt"

	"storyforge/backend/ai"
	"storyforge/backend/internal/models"
	"storyforge/backend/internal/repository"
	"storyforge/backend/pkg/logger"
)

// titleLimit is the number of characters kept when deriving a conversation title.
const titleLimit = 30

// HistoryEntry is a prior turn supplied by the client.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Assembler builds the ordered message list for a chat turn.
type Assembler struct {
	templates repository.TemplateRepository
	resolver  *Resolver
}

func NewAssembler(templates repository.TemplateRepository, resolver *Resolver) *Assembler {
	return &Assembler{templates: templates, resolver: resolver}
}

// Assemble returns the resolved template as a system message when templateID
// names an existing template, then history unchanged, then the user turn.
func (a *Assembler) Assemble(ctx context.Context, templateID *uint, rc ResolutionContext, history []HistoryEntry, userMessage string) ([]ai.Message, error) {
	msgs := make([]ai.Message, 0, len(history)+2)

	if templateID != nil {
		system, err := a.systemPrompt(ctx, *templateID, rc)
		if err != nil {
			return nil, err
		}
		if system != nil {
			msgs = append(msgs, *system)
		}
	}

	for _, h := range history {
		msgs = append(msgs, ai.Message{Role: h.Role, Content: h.Content})
	}

	return append(msgs, ai.Message{Role: models.RoleUser, Content: userMessage}), nil
}

func (a *Assembler) systemPrompt(ctx context.Context, templateID uint, rc ResolutionContext) (*ai.Message, error) {
	tmpl, err := a.templates.Get(ctx, templateID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.FromContext(ctx).Warn("prompt template not found, sending without system prompt", "template_id", templateID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load prompt template %d: %w", templateID, err)
	}

	res, err := a.resolver.Resolve(ctx, tmpl.Content, rc)
	if err != nil {
		return nil, err
	}
	return &ai.Message{Role: models.RoleSystem, Content: res.Text}, nil
}

// DeriveTitle keeps the first 30 characters of the message, appending "..."
// when anything was cut.
func DeriveTitle(message string) string {
	runes := []rune(message)
	if len(runes) <= titleLimit {
		return message
	}
	return string(runes[:titleLimit]) + "..."
}
