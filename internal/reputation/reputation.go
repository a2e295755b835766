// Package reputation resolves IP reputation scores for incoming events.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-security/kestrel/internal/domain"
)

// UnknownScore is used when no reputation entry exists for an address.
// It matches the handshake feature default.
const UnknownScore = 0.5

// cacheTTL bounds staleness of reputation entries served from cache.
const cacheTTL = 5 * time.Minute

// Provider looks up reputation entries, cache first, then the
// repository. Lookups are advisory: a failed lookup yields the unknown
// score, never an error to the evaluation path.
type Provider struct {
	repo   domain.Repository
	cache  domain.Cache
	logger *slog.Logger
}

// NewProvider creates a reputation provider. Both repo and cache are
// optional; with neither, every address resolves to the unknown score.
func NewProvider(repo domain.Repository, cache domain.Cache, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// Score resolves the reputation score for an address.
func (p *Provider) Score(ctx context.Context, tenantID, ip string) float64 {
	if ip == "" {
		return UnknownScore
	}

	if p.cache != nil {
		rep, err := p.cache.GetReputation(ctx, tenantID, ip)
		if err != nil {
			p.logger.Warn("reputation cache lookup failed", "ip", ip, "error", err)
		} else if rep != nil {
			return rep.Score
		}
	}

	if p.repo != nil {
		rep, err := p.repo.GetReputation(ctx, tenantID, ip)
		if err == nil && rep != nil {
			if p.cache != nil {
				if cerr := p.cache.SetReputation(ctx, tenantID, rep, cacheTTL); cerr != nil {
					p.logger.Warn("reputation cache write failed", "ip", ip, "error", cerr)
				}
			}
			return rep.Score
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("reputation lookup failed", "ip", ip, "error", err)
		}
	}

	return UnknownScore
}

// Inject fills ip_reputation into a raw feature mapping from the
// stored reputation of the client address. A caller-supplied value
// always wins; injection only happens when the key is absent.
func (p *Provider) Inject(ctx context.Context, tenantID, ip string, feats map[string]any) map[string]any {
	if ip == "" {
		return feats
	}
	if feats == nil {
		feats = make(map[string]any)
	}
	if _, present := feats["ip_reputation"]; present {
		return feats
	}

	feats["ip_reputation"] = p.Score(ctx, tenantID, ip)
	return feats
}

// Record stores a reputation entry and refreshes the cache.
func (p *Provider) Record(ctx context.Context, tenantID string, rep *domain.Reputation) error {
	if rep == nil || rep.IP == "" {
		return fmt.Errorf("reputation entry requires an address")
	}
	if rep.Score < 0 || rep.Score > 1 {
		return fmt.Errorf("reputation score must be in [0,1], got %v", rep.Score)
	}
	if rep.UpdatedAt.IsZero() {
		rep.UpdatedAt = time.Now().UTC()
	}

	if p.repo != nil {
		if err := p.repo.SaveReputation(ctx, tenantID, rep); err != nil {
			return fmt.Errorf("failed to save reputation: %w", err)
		}
	}
	if p.cache != nil {
		if err := p.cache.SetReputation(ctx, tenantID, rep, cacheTTL); err != nil {
			p.logger.Warn("reputation cache write failed", "ip", rep.IP, "error", err)
		}
	}
	return nil
}

// UploadConcurrency increments and returns the in-window upload count
// for a client address. Used for operational visibility only; the
// count never changes a verdict.
func (p *Provider) UploadConcurrency(ctx context.Context, tenantID, ip string, window time.Duration) (int64, error) {
	if p.cache == nil {
		return 0, fmt.Errorf("no cache configured for concurrency tracking")
	}
	if ip == "" {
		return 0, fmt.Errorf("address is required")
	}
	return p.cache.IncrementCounter(ctx, tenantID, "uploads:"+ip, window)
}
