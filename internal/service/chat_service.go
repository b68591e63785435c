package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storyforge/backend/ai"
	"storyforge/backend/internal/models"
	"storyforge/backend/internal/prompt"
	"storyforge/backend/internal/repository"
	apperrors "storyforge/backend/pkg/errors"
	"storyforge/backend/pkg/logger"
	"storyforge/backend/pkg/secrets"
)

// Replies used when a turn cannot be sent. They are persisted like any other reply.
var (
	ErrNotConfigured = errors.New("AI服务未配置，请先在设置中选择AI服务商和模型。")
	ErrMissingAPIKey = errors.New("API密钥未设置，请在AI服务商设置中填写API密钥。")
)

// Gateway is the part of ai.Gateway the chat flow needs.
type Gateway interface {
	Complete(ctx context.Context, p ai.Provider, m ai.ModelSpec, msgs []ai.Message) (string, error)
	Stream(ctx context.Context, p ai.Provider, m ai.ModelSpec, msgs []ai.Message, onToken func(ai.Token) error) (string, error)
}

// ChatRequest is the body of the chat endpoints.
type ChatRequest struct {
	Message          string                `json:"message" binding:"required"`
	ProjectID        *uint                 `json:"project_id"`
	ConversationID   *uint                 `json:"conversation_id"`
	History          []prompt.HistoryEntry `json:"history"`
	PromptTemplateID *uint                 `json:"prompt_template_id"`
	AIModelID        *uint                 `json:"ai_model_id"`
	Resources        map[string]string     `json:"resources"`
	Temperature      *float32              `json:"temperature"`
	MaxTokens        *int                  `json:"max_tokens"`
	SelectedText     string                `json:"selected_text"`
}

func (r ChatRequest) resolutionContext() prompt.ResolutionContext {
	return prompt.ResolutionContext{
		ProjectID:    r.ProjectID,
		SelectedText: r.SelectedText,
		Resources:    r.Resources,
	}
}

type ChatResponse struct {
	Reply          string `json:"reply"`
	ConversationID uint   `json:"conversation_id"`
}

// FrameType names a streaming frame.
type FrameType string

const (
	FrameConversationID FrameType = "conversation_id"
	FrameThinking       FrameType = "thinking"
	FrameContent        FrameType = "content"
	FrameDone           FrameType = "done"
	FrameError          FrameType = "error"
)

// Frame is one event of a streamed chat turn.
type Frame struct {
	Type           FrameType `json:"type"`
	ConversationID uint      `json:"conversation_id,omitempty"`
	Content        string    `json:"content,omitempty"`
	Message        string    `json:"message,omitempty"`
}

// turn is everything needed to send one request upstream.
type turn struct {
	provider ai.Provider
	model    ai.ModelSpec
	messages []ai.Message
}

type ChatService struct {
	conversations repository.ConversationRepository
	catalog       repository.AIRepository
	assembler     *prompt.Assembler
	gateway       Gateway
	secrets       secrets.Manager
}

func NewChatService(
	conversations repository.ConversationRepository,
	catalog repository.AIRepository,
	assembler *prompt.Assembler,
	gateway Gateway,
	secretManager secrets.Manager,
) *ChatService {
	return &ChatService{
		conversations: conversations,
		catalog:       catalog,
		assembler:     assembler,
		gateway:       gateway,
		secrets:       secretManager,
	}
}

// Chat runs one synchronous turn. Upstream and configuration failures become
// the reply text; only persistence failures are returned as errors.
func (s *ChatService) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	conv, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).WithConversation(conv.ID)

	var reply string
	t, err := s.prepare(ctx, req)
	if err == nil {
		reply, err = s.gateway.Complete(ctx, t.provider, t.model, t.messages)
	}
	if err != nil {
		log.Warn("chat turn failed", "error", err, "kind", ai.KindOf(err))
		reply = err.Error()
	}

	if _, err := s.conversations.AppendMessage(context.WithoutCancel(ctx), conv.ID, models.RoleAssistant, reply); err != nil {
		return nil, storeError(err)
	}
	return &ChatResponse{Reply: reply, ConversationID: conv.ID}, nil
}

// Stream runs one streamed turn, calling emit for each frame. An error is
// returned only when the turn could not be started; every turn that starts
// ends with a persisted assistant message. A failing emit is treated as a
// client disconnect and stops the upstream read.
func (s *ChatService) Stream(ctx context.Context, req ChatRequest, emit func(Frame) error) error {
	conv, err := s.begin(ctx, req)
	if err != nil {
		return err
	}
	log := logger.FromContext(ctx).WithConversation(conv.ID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gone := false
	send := func(f Frame) error {
		if gone {
			return context.Canceled
		}
		if err := emit(f); err != nil {
			log.Info("client went away during stream", "error", err)
			gone = true
			cancel()
			return err
		}
		return nil
	}

	_ = send(Frame{Type: FrameConversationID, ConversationID: conv.ID})

	var reply string
	t, err := s.prepare(ctx, req)
	if err == nil {
		reply, err = s.gateway.Stream(ctx, t.provider, t.model, t.messages, func(tok ai.Token) error {
			return send(Frame{Type: FrameType(tok.Kind), Content: tok.Text})
		})
	}

	final := reply
	switch {
	case err == nil:
	case gone || ai.KindOf(err) == ai.KindInterrupted:
		log.Info("stream interrupted", "received", len(reply))
		if final == "" {
			final = err.Error()
		}
	default:
		log.Warn("stream turn failed", "error", err, "kind", ai.KindOf(err), "received", len(reply))
		final = joinPartial(reply, err.Error())
	}

	if _, perr := s.conversations.AppendMessage(context.WithoutCancel(ctx), conv.ID, models.RoleAssistant, final); perr != nil {
		log.LogError(perr, "failed to persist assistant message")
	}

	switch {
	case gone:
	case err == nil:
		_ = send(Frame{Type: FrameDone})
	default:
		_ = send(Frame{Type: FrameError, Message: err.Error()})
	}
	return nil
}

// begin opens or creates the conversation and records the user turn.
func (s *ChatService) begin(ctx context.Context, req ChatRequest) (*models.Conversation, error) {
	var (
		conv *models.Conversation
		err  error
	)
	if req.ConversationID != nil {
		conv, err = s.conversations.Get(ctx, *req.ConversationID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFoundError(apperrors.CodeConversationNotFound,
				fmt.Sprintf("conversation %d not found", *req.ConversationID))
		}
	} else {
		conv, err = s.conversations.Create(ctx, prompt.DeriveTitle(req.Message), req.ProjectID)
	}
	if err != nil {
		return nil, storeError(err)
	}

	if _, err := s.conversations.AppendMessage(ctx, conv.ID, models.RoleUser, req.Message); err != nil {
		return nil, storeError(err)
	}
	return conv, nil
}

// prepare applies the configuration guards and assembles the message list.
// Any error it returns is fit to be shown as the reply.
func (s *ChatService) prepare(ctx context.Context, req ChatRequest) (*turn, error) {
	if req.AIModelID == nil {
		return nil, ErrNotConfigured
	}
	model, err := s.catalog.GetModel(ctx, *req.AIModelID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("读取AI模型配置失败: %w", err)
	}
	if model.Provider == nil {
		return nil, ErrNotConfigured
	}

	key, err := secrets.Resolve(ctx, s.secrets, strings.TrimSpace(model.Provider.APIKey))
	if err != nil {
		return nil, fmt.Errorf("读取API密钥失败: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrMissingAPIKey
	}

	msgs, err := s.assembler.Assemble(ctx, req.PromptTemplateID, req.resolutionContext(), req.History, req.Message)
	if err != nil {
		return nil, fmt.Errorf("提示模板解析失败: %w", err)
	}

	params := ai.ModelSpec{
		Identifier:  model.ModelIdentifier,
		Temperature: model.Temperature,
		MaxTokens:   model.MaxTokens,
	}
	if req.Temperature != nil {
		params.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		params.MaxTokens = *req.MaxTokens
	}

	return &turn{
		provider: ai.Provider{Name: model.Provider.Name, BaseURL: model.Provider.BaseURL, APIKey: key},
		model:    params,
		messages: msgs,
	}, nil
}

// joinPartial keeps whatever arrived before a failure ahead of the error text.
func joinPartial(partial, failure string) string {
	if partial == "" {
		return failure
	}
	return partial + "\n\n" + failure
}

func storeError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.NewInternalServerError(apperrors.CodeStoreFailure, "failed to access conversation store").Wrap(err)
}
