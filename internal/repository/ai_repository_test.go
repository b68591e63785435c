package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge/backend/internal/models"
	"storyforge/backend/internal/testutil"
)

func TestGetModelPreloadsProvider(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewGormAIRepository(db)
	ctx := context.Background()

	provider := &models.AIProvider{Name: "DeepSeek", BaseURL: "https://api.deepseek.com/", APIKey: "sk-test", Enabled: true}
	require.NoError(t, db.Create(provider).Error)
	model := &models.AIModel{ProviderID: provider.ID, Name: "Chat", ModelIdentifier: "deepseek-chat", Temperature: 0.5, MaxTokens: 512}
	require.NoError(t, db.Create(model).Error)

	got, err := repo.GetModel(ctx, model.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Provider)
	assert.Equal(t, "https://api.deepseek.com/", got.Provider.BaseURL)
	assert.Equal(t, "deepseek-chat", got.ModelIdentifier)

	_, err = repo.GetModel(ctx, model.ID+1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListProvidersOrdersByDisplayOrder(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewGormAIRepository(db)

	require.NoError(t, db.Create(&models.AIProvider{Name: "B", BaseURL: "b", DisplayOrder: 2}).Error)
	require.NoError(t, db.Create(&models.AIProvider{Name: "A", BaseURL: "a", DisplayOrder: 1}).Error)

	ps, err := repo.ListProviders(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "A", ps[0].Name)
}

func TestListTemplatesIncludesGlobal(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewGormTemplateRepository(db)

	require.NoError(t, db.Create(&models.PromptTemplate{Name: "global", Content: "g"}).Error)
	require.NoError(t, db.Create(&models.PromptTemplate{Name: "mine", Content: "m", ProjectID: testutil.Ptr(uint(1)), Variables: models.JSONMap{"tone": "dark"}}).Error)
	require.NoError(t, db.Create(&models.PromptTemplate{Name: "other", Content: "o", ProjectID: testutil.Ptr(uint(2))}).Error)

	ts, err := repo.ListByProject(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.Equal(t, "mine", ts[0].Name)
	assert.Equal(t, "dark", ts[0].Variables["tone"])
	assert.Equal(t, "global", ts[1].Name)
}
