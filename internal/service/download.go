package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/DukeRupert/proofsheet/internal/metrics"
	"github.com/DukeRupert/proofsheet/internal/storage"
	"github.com/DukeRupert/proofsheet/internal/store"
)

// DownloadService decides and fulfils individual download requests.
type DownloadService interface {
	// Request evaluates whether the client may download the asset. Free and
	// re-download decisions return a signed URL; a free decision also
	// records the grant. A payment decision returns a one-item quote.
	//
	// Unknown sessions and assets are denied with a not_found error.
	Request(ctx context.Context, sessionID, clientKey, assetID string) (*DownloadResult, error)

	// Status summarizes the client's grants and remaining free downloads.
	Status(ctx context.Context, sessionID, clientKey string) (*DownloadStatus, error)
}

// DownloadResult is the outcome of a download request.
type DownloadResult struct {
	Decision domain.Decision
	AssetID  string

	// URL and ExpiresAt are set when the decision grants the download.
	URL       string
	ExpiresAt time.Time

	// Quote is set when payment is required.
	Quote *domain.Cart

	// FreeRemaining is -1 when downloads are unlimited.
	FreeRemaining int
}

// DownloadStatus is a client's view of a session's downloads.
type DownloadStatus struct {
	Policy        *domain.PricingPolicy
	Grants        []domain.DownloadGrant
	FreeRemaining int
}

type downloadService struct {
	store    store.Store
	policies PolicyService
	files    storage.Storage
	tax      TaxRateSource
	urlTTL   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewDownloadService creates a new DownloadService. Signed URLs are valid for
// urlTTL.
func NewDownloadService(st store.Store, policies PolicyService, files storage.Storage, tax TaxRateSource, urlTTL time.Duration, logger *slog.Logger) DownloadService {
	if urlTTL <= 0 {
		urlTTL = storage.DefaultURLExpiry
	}
	return &downloadService{
		store:    st,
		policies: policies,
		files:    files,
		tax:      tax,
		urlTTL:   urlTTL,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *downloadService) Request(ctx context.Context, sessionID, clientKey, assetID string) (*DownloadResult, error) {
	const op = "download.request"

	assetID = strings.TrimSpace(assetID)
	if sessionID == "" || clientKey == "" || assetID == "" {
		metrics.DecisionMade(domain.DecisionDeny.String())
		return nil, domain.Invalid(op, "session, client and asset are required")
	}

	policy, err := s.policies.Get(ctx, sessionID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			metrics.DecisionMade(domain.DecisionDeny.String())
		}
		return nil, err
	}

	asset, err := s.store.GetAsset(ctx, sessionID, assetID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.DecisionMade(domain.DecisionDeny.String())
		return nil, domain.NotFound(op, "asset", assetID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load asset")
	}

	taxRate, err := s.tax.RateBPS(ctx, policy)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to resolve tax rate")
	}

	var (
		decision domain.Decision
		granted  domain.GrantSet
		inserted bool
	)
	// The grant count must not change between deciding and recording.
	err = s.store.WithClientLock(ctx, sessionID, clientKey, func(tx store.Store) error {
		grants, err := tx.ListGrants(ctx, sessionID, clientKey)
		if err != nil {
			return err
		}
		granted = domain.GrantSetFrom(grants)
		decision = domain.Decide(policy, granted, assetID)

		if decision != domain.DecisionAllowFree {
			return nil
		}
		inserted, err = tx.RecordGrant(ctx, domain.DownloadGrant{
			SessionID:      sessionID,
			ClientKey:      clientKey,
			AssetID:        assetID,
			FirstGrantedAt: s.now(),
		})
		return err
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to evaluate download")
	}

	metrics.DecisionMade(decision.String())
	if inserted {
		metrics.GrantRecorded(false)
	}

	result := &DownloadResult{
		Decision: decision,
		AssetID:  assetID,
	}

	switch decision {
	case domain.DecisionAllowFree, domain.DecisionAllowRedownload:
		if decision == domain.DecisionAllowFree {
			granted.Add(assetID)
		}
		result.FreeRemaining = domain.FreeRemaining(policy, granted)

		expiresAt := s.now().Add(s.urlTTL)
		url, err := s.files.URL(ctx, asset.StorageKey, s.urlTTL)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to create download link")
		}
		result.URL = url
		result.ExpiresAt = expiresAt

	case domain.DecisionRequiresPayment:
		result.FreeRemaining = domain.FreeRemaining(policy, granted)

		quote, _, err := domain.BuildCart(policy, clientKey, granted, []string{assetID}, taxRate)
		if err != nil {
			return nil, err
		}
		result.Quote = quote

	default:
		return nil, domain.Invalid(op, "download is not available for this asset")
	}

	s.logger.Info("download decided",
		"session_id", sessionID,
		"asset_id", assetID,
		"decision", decision.String(),
		"new_grant", inserted,
	)

	return result, nil
}

func (s *downloadService) Status(ctx context.Context, sessionID, clientKey string) (*DownloadStatus, error) {
	const op = "download.status"

	policy, err := s.policies.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	grants, err := s.store.ListGrants(ctx, sessionID, clientKey)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list downloads")
	}

	return &DownloadStatus{
		Policy:        policy,
		Grants:        grants,
		FreeRemaining: domain.FreeRemaining(policy, domain.GrantSetFrom(grants)),
	}, nil
}
