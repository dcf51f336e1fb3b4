package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/quotagate/internal/models"
	"github.com/opsdeck/quotagate/internal/repository"
	"github.com/opsdeck/quotagate/internal/storage"
)

type APIKeyService struct {
	repository *repository.APIKeyRepository
	redis      *storage.RedisClient
}

func NewAPIKeyService(repo *repository.APIKeyRepository, redis *storage.RedisClient) *APIKeyService {
	return &APIKeyService{
		repository: repo,
		redis:      redis,
	}
}

// Create issues a caller credential for an organization. The plain key is
// returned exactly once; only its hash is stored.
func (s *APIKeyService) Create(ctx context.Context, orgID uuid.UUID, name, createdBy string) (string, *models.APIKey, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	key := "qg_" + base64.URLEncoding.EncodeToString(keyBytes)

	hash := sha256.Sum256([]byte(key))
	keyHash := hex.EncodeToString(hash[:])

	apiKey := models.APIKey{
		OrganizationID: orgID,
		KeyHash:        keyHash,
		Name:           name,
		CreatedBy:      createdBy,
		IsActive:       true,
	}

	if err := s.repository.Create(ctx, &apiKey); err != nil {
		return "", nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return key, &apiKey, nil
}

func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	hash := sha256.Sum256([]byte(key))
	keyHash := hex.EncodeToString(hash[:])

	cacheKey := fmt.Sprintf("apikey:cache:%s", keyHash)

	if s.redis != nil {
		cached, err := s.redis.Get(ctx, cacheKey)
		if err == nil && cached != "" {
			var apiKey models.APIKey
			if err := json.Unmarshal([]byte(cached), &apiKey); err == nil {
				return &apiKey, nil
			}
		}
	}

	apiKey, err := s.repository.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}

	if apiKey == nil {
		return nil, nil
	}

	if s.redis != nil {
		apiKeyJSON, _ := json.Marshal(apiKey)
		s.redis.Set(ctx, cacheKey, apiKeyJSON, 5*time.Minute)
	}

	return apiKey, nil
}

func (s *APIKeyService) Get(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	return s.repository.FindByID(ctx, id)
}

func (s *APIKeyService) List(ctx context.Context, orgID uuid.UUID) ([]models.APIKey, error) {
	return s.repository.ListByOrganization(ctx, orgID)
}

func (s *APIKeyService) Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	if _, hasActive := updates["is_active"]; hasActive {
		s.invalidateCache(ctx, id)
	}

	return s.repository.Update(ctx, id, updates)
}

func (s *APIKeyService) Delete(ctx context.Context, id uuid.UUID) error {
	s.invalidateCache(ctx, id)

	return s.repository.Delete(ctx, id)
}

func (s *APIKeyService) UpdateLastUsed(ctx context.Context, id uuid.UUID) {
	s.repository.UpdateLastUsed(ctx, id)
}

func (s *APIKeyService) invalidateCache(ctx context.Context, id uuid.UUID) {
	if s.redis == nil {
		return
	}

	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil || apiKey == nil {
		return
	}

	cacheKey := fmt.Sprintf("apikey:cache:%s", apiKey.KeyHash)
	s.redis.Del(ctx, cacheKey)
}
