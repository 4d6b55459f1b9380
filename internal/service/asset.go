package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/DukeRupert/proofsheet/internal/storage"
	"github.com/DukeRupert/proofsheet/internal/store"
)

// AssetService maintains the per-session catalog of downloadable originals.
type AssetService interface {
	// Register adds or updates an asset. An empty storage key defaults to
	// storage.AssetKey. The object must already exist in storage.
	Register(ctx context.Context, asset domain.Asset) (*domain.Asset, error)
}

type assetService struct {
	store  store.Store
	files  storage.Storage
	logger *slog.Logger
}

// NewAssetService creates a new AssetService.
func NewAssetService(st store.Store, files storage.Storage, logger *slog.Logger) AssetService {
	return &assetService{
		store:  st,
		files:  files,
		logger: logger,
	}
}

func (s *assetService) Register(ctx context.Context, asset domain.Asset) (*domain.Asset, error) {
	const op = "asset.register"

	asset.SessionID = strings.TrimSpace(asset.SessionID)
	asset.AssetID = strings.TrimSpace(asset.AssetID)
	asset.StorageKey = strings.TrimSpace(asset.StorageKey)
	asset.Filename = strings.TrimSpace(asset.Filename)

	if asset.SessionID == "" {
		return nil, domain.NewValidationError(op, "session_id", "Session ID is required")
	}
	if asset.AssetID == "" {
		return nil, domain.NewValidationError(op, "asset_id", "Asset ID is required")
	}
	if asset.Filename == "" {
		asset.Filename = asset.AssetID
	}
	if asset.StorageKey == "" {
		asset.StorageKey = storage.AssetKey(asset.SessionID, asset.AssetID, asset.Filename)
	}
	if !storage.IsAllowedImageType(storage.DetectContentType(asset.StorageKey)) {
		return nil, domain.NewValidationError(op, "storage_key", "Only image files can be sold as downloads")
	}

	exists, err := s.files.Exists(ctx, asset.StorageKey)
	if storage.IsInvalidKey(err) {
		return nil, domain.NewValidationError(op, "storage_key", "Storage key is invalid")
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to check storage")
	}
	if !exists {
		return nil, domain.NewValidationError(op, "storage_key", "No file is stored at this key")
	}

	saved, err := s.store.PutAsset(ctx, &asset)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to save asset")
	}

	s.logger.Info("asset registered",
		"session_id", saved.SessionID,
		"asset_id", saved.AssetID,
		"storage_key", saved.StorageKey,
	)
	return saved, nil
}
