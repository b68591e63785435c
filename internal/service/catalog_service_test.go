package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge/backend/ai"
	"storyforge/backend/internal/models"
	"storyforge/backend/internal/repository"
	"storyforge/backend/internal/testutil"
	"storyforge/backend/pkg/cache"
	apperrors "storyforge/backend/pkg/errors"
	"storyforge/backend/pkg/logger"
)

func TestRemoteModelsAreCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/v1/models", r.URL.Path)
		fmt.Fprint(w, `{"object":"list","data":[{"id":"deepseek-chat"},{"id":"deepseek-reasoner"}]}`)
	}))
	defer srv.Close()

	db := testutil.NewDB(t)
	p := models.AIProvider{Name: "deepseek", BaseURL: srv.URL, APIKey: "sk-test", Enabled: true}
	require.NoError(t, db.Create(&p).Error)

	store := cache.NewCache(cache.Options{DefaultExpiration: time.Minute})
	defer store.Close()

	svc := NewCatalogService(repository.NewGormAIRepository(db), ai.NewGateway(ai.DefaultConfig(), nil, logger.Discard()), nil, store, time.Minute)
	ctx := context.Background()

	ids, err := svc.RemoteModels(ctx, p.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"deepseek-chat", "deepseek-reasoner"}, ids)

	ids, err = svc.RemoteModels(ctx, p.ID, false)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.EqualValues(t, 1, hits.Load())

	_, err = svc.RemoteModels(ctx, p.ID, true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
}

func TestRemoteModelsErrors(t *testing.T) {
	db := testutil.NewDB(t)
	p := models.AIProvider{Name: "empty", BaseURL: "http://127.0.0.1:1/", APIKey: " ", Enabled: true}
	require.NoError(t, db.Create(&p).Error)

	store := cache.NewCache(cache.Options{})
	svc := NewCatalogService(repository.NewGormAIRepository(db), ai.NewGateway(ai.DefaultConfig(), nil, logger.Discard()), nil, store, time.Minute)

	_, err := svc.RemoteModels(context.Background(), 404, false)
	assert.Equal(t, http.StatusNotFound, apperrors.GetStatusCode(err))

	_, err = svc.RemoteModels(context.Background(), p.ID, false)
	assert.Equal(t, http.StatusBadRequest, apperrors.GetStatusCode(err))
}

func TestModelsForUnknownProvider(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewCatalogService(repository.NewGormAIRepository(db), nil, nil, cache.NewCache(cache.Options{}), time.Minute)

	_, err := svc.Models(context.Background(), 1)
	assert.True(t, apperrors.Is(err, apperrors.NewNotFoundError(apperrors.CodeProviderNotFound, "")))
}
