package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"storyforge/backend/ai"
	"storyforge/backend/internal/models"
	"storyforge/backend/internal/repository"
	"storyforge/backend/pkg/cache"
	apperrors "storyforge/backend/pkg/errors"
	"storyforge/backend/pkg/logger"
	"storyforge/backend/pkg/secrets"
)

// ModelLister fetches a provider's advertised models.
type ModelLister interface {
	ListModels(ctx context.Context, p ai.Provider) ([]string, error)
}

// CatalogService exposes configured providers and models, plus the model
// list each provider advertises, cached for ttl.
type CatalogService struct {
	repo    repository.AIRepository
	lister  ModelLister
	secrets secrets.Manager
	cache   cache.Store
	ttl     time.Duration
}

func NewCatalogService(repo repository.AIRepository, lister ModelLister, secretManager secrets.Manager, store cache.Store, ttl time.Duration) *CatalogService {
	return &CatalogService{
		repo:    repo,
		lister:  lister,
		secrets: secretManager,
		cache:   store,
		ttl:     ttl,
	}
}

func (s *CatalogService) Providers(ctx context.Context) ([]models.AIProvider, error) {
	providers, err := s.repo.ListProviders(ctx)
	if err != nil {
		return nil, apperrors.NewInternalServerError(apperrors.CodeStoreFailure, "failed to list providers").Wrap(err)
	}
	return providers, nil
}

func (s *CatalogService) Models(ctx context.Context, providerID uint) ([]models.AIModel, error) {
	if _, err := s.provider(ctx, providerID); err != nil {
		return nil, err
	}
	list, err := s.repo.ListModels(ctx, providerID)
	if err != nil {
		return nil, apperrors.NewInternalServerError(apperrors.CodeStoreFailure, "failed to list models").Wrap(err)
	}
	return list, nil
}

// RemoteModels asks the provider for its model identifiers. refresh skips the cache.
func (s *CatalogService) RemoteModels(ctx context.Context, providerID uint, refresh bool) ([]string, error) {
	log := logger.FromContext(ctx)
	key := fmt.Sprintf("remote-models:%d", providerID)

	if !refresh {
		if ids, ok := s.cached(ctx, key); ok {
			return ids, nil
		}
	}

	p, err := s.provider(ctx, providerID)
	if err != nil {
		return nil, err
	}

	apiKey, err := secrets.Resolve(ctx, s.secrets, strings.TrimSpace(p.APIKey))
	if err != nil {
		return nil, apperrors.NewInternalServerError(apperrors.CodeInternal, "读取API密钥失败").Wrap(err)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, ErrMissingAPIKey.Error())
	}

	ids, err := s.lister.ListModels(ctx, ai.Provider{Name: p.Name, BaseURL: p.BaseURL, APIKey: strings.TrimSpace(apiKey)})
	if err != nil {
		return nil, apperrors.NewBadGatewayError(apperrors.CodeUpstreamFailure, err.Error()).Wrap(err)
	}

	if data, err := json.Marshal(ids); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			log.Warn("failed to cache remote models", "provider_id", providerID, "error", err)
		}
	}
	return ids, nil
}

func (s *CatalogService) cached(ctx context.Context, key string) ([]string, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.FromContext(ctx).Warn("model cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false
	}
	return ids, true
}

func (s *CatalogService) provider(ctx context.Context, id uint) (*models.AIProvider, error) {
	p, err := s.repo.GetProvider(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFoundError(apperrors.CodeProviderNotFound, fmt.Sprintf("provider %d not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalServerError(apperrors.CodeStoreFailure, "failed to load provider").Wrap(err)
	}
	return p, nil
}
