package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"storyforge/backend/ai"
	"storyforge/backend/internal/models"
	"storyforge/backend/internal/prompt"
	"storyforge/backend/internal/repository"
	"storyforge/backend/internal/service"
	"storyforge/backend/internal/testutil"
	"storyforge/backend/pkg/cache"
	"storyforge/backend/pkg/errors"
	"storyforge/backend/pkg/health"
	"storyforge/backend/pkg/logger"
)

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	entities := repository.NewGormEntityRepository(db)
	templates := repository.NewGormTemplateRepository(db)
	conversations := repository.NewGormConversationRepository(db)
	catalog := repository.NewGormAIRepository(db)

	resolver := prompt.NewResolver(entities)
	gateway := ai.NewGateway(ai.DefaultConfig(), nil, logger.Discard())
	chat := service.NewChatService(conversations, catalog, prompt.NewAssembler(templates, resolver), gateway, nil)
	store := cache.NewCache(cache.Options{})
	t.Cleanup(store.Close)

	r := gin.New()
	r.Use(logger.Middleware(logger.Discard()), errors.ErrorHandler(), errors.RecoveryWithLogger())
	api := r.Group("/api")
	NewPromptHandler(resolver, templates).RegisterRoutes(api)
	NewChatHandler(chat).RegisterRoutes(api)
	NewConversationHandler(conversations).RegisterRoutes(api)
	NewProviderHandler(service.NewCatalogService(catalog, gateway, nil, store, time.Minute)).RegisterRoutes(api)
	NewHealthHandler(health.NewChecker(logger.Discard(), time.Minute)).RegisterHealthRoutes(r, api)
	return r, db
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRenderResolvesProjectResources(t *testing.T) {
	r, db := setupRouter(t)
	require.NoError(t, db.Create(&models.RPGCharacter{Resource: models.Resource{ProjectID: 1, Name: "角色A", Content: "一个战士"}}).Error)
	require.NoError(t, db.Create(&models.Worldview{ProjectID: 1, Content: "魔法大陆"}).Error)

	w := do(r, http.MethodPost, "/api/prompts/render", gin.H{
		"content":    "请描述 {{角色A}} 在 {{世界观}} 中的故事，{{未知}}",
		"project_id": 1,
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[RenderResponse](t, w)
	assert.Equal(t, "请描述 一个战士 在 魔法大陆 中的故事，{{未知}}", resp.RenderedContent)
	assert.Equal(t, []string{"未知"}, resp.Unresolved)
}

func TestRenderWithoutProjectEchoes(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(r, http.MethodPost, "/api/prompts/render", gin.H{"content": "{{角色A}} 原样返回"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "{{角色A}} 原样返回", decode[RenderResponse](t, w).RenderedContent)
}

func TestRenderRejectsMalformedBody(t *testing.T) {
	r, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/prompts/render", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), errors.CodeInvalidRequest)
}

func TestChatWithoutModelRepliesNotConfigured(t *testing.T) {
	r, db := setupRouter(t)

	w := do(r, http.MethodPost, "/api/chat", gin.H{"message": "你好", "history": []any{}})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[service.ChatResponse](t, w)
	assert.Equal(t, service.ErrNotConfigured.Error(), resp.Reply)
	assert.NotZero(t, resp.ConversationID)

	var count int64
	require.NoError(t, db.Model(&models.Message{}).Where("conversation_id = ?", resp.ConversationID).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestChatRequiresMessage(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(r, http.MethodPost, "/api/chat", gin.H{"history": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatUnknownConversation(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(r, http.MethodPost, "/api/chat", gin.H{"message": "hi", "conversation_id": 12})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), errors.CodeConversationNotFound)
}

func readFrames(t *testing.T, body string) []service.Frame {
	t.Helper()
	var frames []service.Frame
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), line)
		var f service.Frame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f))
		frames = append(frames, f)
	}
	return frames
}

func TestChatStreamSendsEvents(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"reasoning\":\"嗯\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"好的\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	r, db := setupRouter(t)
	p := models.AIProvider{Name: "up", BaseURL: upstream.URL + "/", APIKey: "sk-test", Enabled: true}
	require.NoError(t, db.Create(&p).Error)
	m := models.AIModel{ProviderID: p.ID, Name: "m", ModelIdentifier: "glm-4", Temperature: 0.5, MaxTokens: 10, Enabled: true}
	require.NoError(t, db.Create(&m).Error)

	w := do(r, http.MethodPost, "/api/chat/stream", gin.H{"message": "hi", "ai_model_id": m.ID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := readFrames(t, w.Body.String())
	require.Len(t, frames, 4)
	assert.Equal(t, service.FrameConversationID, frames[0].Type)
	assert.Equal(t, service.Frame{Type: service.FrameThinking, Content: "嗯"}, frames[1])
	assert.Equal(t, service.Frame{Type: service.FrameContent, Content: "好的"}, frames[2])
	assert.Equal(t, service.Frame{Type: service.FrameDone}, frames[3])
}

func TestChatStreamUnknownConversationSendsErrorFrame(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(r, http.MethodPost, "/api/chat/stream", gin.H{"message": "hi", "conversation_id": 3})
	frames := readFrames(t, w.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, service.FrameError, frames[0].Type)
	assert.Contains(t, frames[0].Message, "not found")
}

func TestConversationEndpoints(t *testing.T) {
	r, db := setupRouter(t)
	repo := repository.NewGormConversationRepository(db)
	conv, err := repo.Create(context.Background(), "旧标题", testutil.Ptr(uint(1)))
	require.NoError(t, err)
	_, err = repo.AppendMessage(context.Background(), conv.ID, models.RoleUser, "你好")
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/api/conversations?project_id=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Conversation](t, w), 1)

	w = do(r, http.MethodGet, fmt.Sprintf("/api/conversations/%d/messages", conv.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Message](t, w), 1)

	w = do(r, http.MethodPut, fmt.Sprintf("/api/conversations/%d", conv.ID), gin.H{"title": "新标题"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "新标题", decode[models.Conversation](t, w).Title)

	w = do(r, http.MethodDelete, fmt.Sprintf("/api/conversations/%d", conv.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodDelete, fmt.Sprintf("/api/conversations/%d", conv.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/conversations/abc/messages", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTemplateEndpoints(t *testing.T) {
	r, db := setupRouter(t)
	require.NoError(t, db.Create(&models.PromptTemplate{Name: "全局", Content: "g"}).Error)
	require.NoError(t, db.Create(&models.PromptTemplate{ProjectID: testutil.Ptr(uint(2)), Name: "项目", Content: "p"}).Error)

	w := do(r, http.MethodGet, "/api/projects/2/prompt-templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]models.PromptTemplate](t, w)
	require.Len(t, list, 2)
	assert.Equal(t, "项目", list[0].Name)

	w = do(r, http.MethodGet, "/api/prompt-templates/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), errors.CodeTemplateNotFound)
}

func TestProvidersHideAPIKey(t *testing.T) {
	r, db := setupRouter(t)
	require.NoError(t, db.Create(&models.AIProvider{Name: "p", BaseURL: "https://api.example.com", APIKey: "sk-very-secret", Enabled: true}).Error)

	w := do(r, http.MethodGet, "/api/ai-providers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-very-secret")
	assert.Contains(t, w.Body.String(), `"has_api_key":true`)

	w = do(r, http.MethodGet, "/api/ai-providers/42/ai-models", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "components")
	assert.Contains(t, w.Body.String(), "goroutines")
}
