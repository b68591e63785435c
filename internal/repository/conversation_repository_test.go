package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge/backend/internal/models"
	"storyforge/backend/internal/testutil"
)

func TestConversationLifecycle(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewGormConversationRepository(db)
	ctx := context.Background()

	conv, err := repo.Create(ctx, "第一次对话", testutil.Ptr(uint(1)))
	require.NoError(t, err)
	require.NotZero(t, conv.ID)

	_, err = repo.AppendMessage(ctx, conv.ID, models.RoleUser, "你好")
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, conv.ID, models.RoleAssistant, "你好！")
	require.NoError(t, err)

	msgs, err := repo.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "你好！", msgs[1].Content)

	renamed, err := repo.Rename(ctx, conv.ID, "新标题")
	require.NoError(t, err)
	assert.Equal(t, "新标题", renamed.Title)

	list, err := repo.List(ctx, testutil.Ptr(uint(1)))
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = repo.List(ctx, testutil.Ptr(uint(2)))
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, repo.Delete(ctx, conv.ID))
	_, err = repo.Get(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	msgs, err = repo.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.ErrorIs(t, repo.Delete(ctx, conv.ID), ErrNotFound)
}

func TestRenameMissingConversation(t *testing.T) {
	repo := NewGormConversationRepository(testutil.NewDB(t))

	_, err := repo.Rename(context.Background(), 42, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}
